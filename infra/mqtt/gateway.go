// Package mqtt provides the Paho-backed notification gateway and the inbound
// message handler for transporter traffic.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/haulex/dispatch/core/notify"
	"github.com/haulex/dispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	QoS        byte        `json:"qos"`
	MaxRetries int         `json:"max_retries"`
	BackoffMS  int         `json:"backoff_ms"`
	TLSConfig  *tls.Config `json:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoGateway implements notify.Gateway over MQTT. Each recipient gets the
// payload on its own topic; delivery is at-most-once from the engine's point
// of view.
type PahoGateway struct {
	cli        pahoClient
	qos        byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewPahoGateway connects to the broker and returns a ready gateway.
func NewPahoGateway(cfg Config) (*PahoGateway, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_gateway")
	opts.OnConnect = func(_ paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	g := &PahoGateway{
		cli:        c,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}
	if g.maxRetries <= 0 {
		g.maxRetries = 3
	}
	if g.backoff <= 0 {
		g.backoff = 100 * time.Millisecond
	}
	return g, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// topicFor maps a notification event to the per-recipient topic.
func topicFor(event, recipientID string) string {
	switch event {
	case notify.EventBroadcastOffer:
		return fmt.Sprintf("fleet/%s/offer", recipientID)
	case notify.EventAssignmentCreated:
		return fmt.Sprintf("fleet/%s/assignment", recipientID)
	case notify.EventOrderUpdate:
		return fmt.Sprintf("customer/%s/order", recipientID)
	default:
		return fmt.Sprintf("fleet/%s/%s", recipientID, event)
	}
}

// Publish marshals payload once and sends it to every recipient's topic. Each
// recipient gets a single synchronous attempt; failed deliveries are retried
// on a background goroutine with exponential backoff, so a sick broker never
// adds latency to the dispatch path. The first immediate failure is returned
// so callers can log degraded delivery.
func (g *PahoGateway) Publish(_ context.Context, event string, recipientIDs []string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range recipientIDs {
		topic := topicFor(event, id)
		if err := g.publishOnce(topic, body); err != nil {
			g.log.Warnf("publish to %s failed, retrying in background: %v", topic, err)
			if firstErr == nil {
				firstErr = err
			}
			g.retryLater(topic, body)
		}
	}
	return firstErr
}

func (g *PahoGateway) publishOnce(topic string, body []byte) error {
	token := g.cli.Publish(topic, g.qos, false, body)
	token.Wait()
	return token.Error()
}

// retryLater re-sends off the caller's path with exponential backoff.
func (g *PahoGateway) retryLater(topic string, body []byte) {
	go func() {
		for attempt := 0; attempt < g.maxRetries; attempt++ {
			time.Sleep(g.backoff * time.Duration(1<<attempt))
			if err := g.publishOnce(topic, body); err == nil {
				g.log.Infof("redelivered to %s after %d retries", topic, attempt+1)
				return
			}
		}
		g.log.Errorf("dropped message to %s after %d retries", topic, g.maxRetries)
	}()
}

// Disconnect gracefully closes the MQTT connection.
func (g *PahoGateway) Disconnect() {
	if g.cli != nil && g.cli.IsConnected() {
		g.cli.Disconnect(250)
	}
}
