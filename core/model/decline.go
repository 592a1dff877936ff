package model

import "time"

// BroadcastDecline records that a transporter opted out of a broadcast. The
// transporter is excluded from future candidate consideration for that truck
// request; the request status itself is untouched.
type BroadcastDecline struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	TruckRequestID string    `gorm:"size:36;not null;uniqueIndex:idx_declines_request_transporter,priority:1" json:"truck_request_id"`
	TransporterID  string    `gorm:"size:36;not null;uniqueIndex:idx_declines_request_transporter,priority:2" json:"transporter_id"`
	Reason         string    `gorm:"size:255" json:"reason"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BroadcastDecline) TableName() string { return "broadcast_declines" }
