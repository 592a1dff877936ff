package mqtt

import (
	"context"
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/haulex/dispatch/core/match"
	"github.com/haulex/dispatch/core/model"
	"github.com/haulex/dispatch/infra/logger"
)

// Dispatcher is the slice of the dispatch engine the inbound handler needs.
type Dispatcher interface {
	AcceptBroadcast(ctx context.Context, truckRequestID, transporterID, driverID, vehicleID string) (*model.Assignment, error)
	DeclineBroadcast(ctx context.Context, truckRequestID, transporterID, reason string) error
}

// Topics the handler subscribes to.
const (
	TopicAccept   = "dispatch/accept"
	TopicDecline  = "dispatch/decline"
	TopicPosition = "fleet/position"
)

type acceptMessage struct {
	TruckRequestID string `json:"truck_request_id"`
	TransporterID  string `json:"transporter_id"`
	DriverID       string `json:"driver_id"`
	VehicleID      string `json:"vehicle_id"`
}

type declineMessage struct {
	TruckRequestID string `json:"truck_request_id"`
	TransporterID  string `json:"transporter_id"`
	Reason         string `json:"reason"`
}

type positionMessage struct {
	TransporterID  string  `json:"transporter_id"`
	VehicleType    string  `json:"vehicle_type"`
	VehicleSubtype string  `json:"vehicle_subtype"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Offline        bool    `json:"offline"`
}

// Handler routes inbound transporter messages to the dispatch engine and the
// fleet index. Handler callbacks run on Paho's router goroutine, so each one
// does its work and returns quickly.
type Handler struct {
	cli     pahoClient
	engine  Dispatcher
	index   match.FleetIndex
	qos     byte
	timeout time.Duration
	log     logger.Logger
}

// NewHandler builds an inbound handler sharing this gateway's connection.
func (g *PahoGateway) NewHandler(engine Dispatcher, index match.FleetIndex) *Handler {
	return NewHandler(g.cli, engine, index, g.qos)
}

// NewHandler creates a Handler bound to the given client.
func NewHandler(cli pahoClient, engine Dispatcher, index match.FleetIndex, qos byte) *Handler {
	return &Handler{
		cli:     cli,
		engine:  engine,
		index:   index,
		qos:     qos,
		timeout: 10 * time.Second,
		log:     logger.New("mqtt_handler"),
	}
}

// Subscribe registers the three inbound topics. Call after the client is
// connected; Paho re-delivers the subscriptions on reconnect.
func (h *Handler) Subscribe() error {
	subs := map[string]paho.MessageHandler{
		TopicAccept:   h.onAccept,
		TopicDecline:  h.onDecline,
		TopicPosition: h.onPosition,
	}
	for topic, cb := range subs {
		if token := h.cli.Subscribe(topic, h.qos, cb); token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (h *Handler) onAccept(_ paho.Client, msg paho.Message) {
	var m acceptMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		h.log.Errorf("failed to decode accept: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if _, err := h.engine.AcceptBroadcast(ctx, m.TruckRequestID, m.TransporterID, m.DriverID, m.VehicleID); err != nil {
		h.log.Warnf("accept %s by %s rejected: %v", m.TruckRequestID, m.TransporterID, err)
	}
}

func (h *Handler) onDecline(_ paho.Client, msg paho.Message) {
	var m declineMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		h.log.Errorf("failed to decode decline: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.engine.DeclineBroadcast(ctx, m.TruckRequestID, m.TransporterID, m.Reason); err != nil {
		h.log.Warnf("decline %s by %s failed: %v", m.TruckRequestID, m.TransporterID, err)
	}
}

func (h *Handler) onPosition(_ paho.Client, msg paho.Message) {
	var m positionMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		h.log.Errorf("failed to decode position: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if m.Offline {
		if err := h.index.Remove(ctx, m.TransporterID); err != nil {
			h.log.Errorf("remove %s from index: %v", m.TransporterID, err)
		}
		return
	}
	t := model.Transporter{
		ID:             m.TransporterID,
		VehicleType:    m.VehicleType,
		VehicleSubtype: m.VehicleSubtype,
		Location:       model.Point{Lat: m.Lat, Lon: m.Lon},
		ReportedAt:     time.Now(),
	}
	if err := h.index.Update(ctx, t); err != nil {
		h.log.Errorf("update %s in index: %v", m.TransporterID, err)
	}
}
