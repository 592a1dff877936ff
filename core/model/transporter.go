package model

import "time"

// Transporter is a fleet member's live presence record as reported over the
// position channel. It feeds the fleet index used for candidate matching.
type Transporter struct {
	ID             string    `json:"id"`
	VehicleType    string    `json:"vehicle_type"`
	VehicleSubtype string    `json:"vehicle_subtype"`
	Location       Point     `json:"location"`
	OnlineSince    time.Time `json:"online_since"`
	ReportedAt     time.Time `json:"reported_at"`
}
