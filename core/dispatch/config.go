package dispatch

import (
	"fmt"
	"time"
)

// Config defines engine and coordinator timing parameters.
type Config struct {
	// OrderTTLSeconds is the search window granted to a new order. Fixed at
	// creation, never extended.
	OrderTTLSeconds int `json:"order_ttl_seconds"`
	// LockTTLSeconds bounds the advisory acceptance lock.
	LockTTLSeconds int `json:"lock_ttl_seconds"`
	// HoldWindowSeconds moves a broadcast request to held for this long.
	// Zero disables the hold.
	HoldWindowSeconds int `json:"hold_window_seconds"`
	// IdempotencyTTLSeconds bounds create-order response replay.
	IdempotencyTTLSeconds int `json:"idempotency_ttl_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OrderTTLSeconds == 0 {
		c.OrderTTLSeconds = 1800
	}
	if c.LockTTLSeconds == 0 {
		c.LockTTLSeconds = 5
	}
	if c.IdempotencyTTLSeconds == 0 {
		c.IdempotencyTTLSeconds = 300
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.OrderTTLSeconds < 0 || c.LockTTLSeconds < 0 || c.HoldWindowSeconds < 0 || c.IdempotencyTTLSeconds < 0 {
		return fmt.Errorf("dispatch config values must not be negative")
	}
	return nil
}

// OrderTTL returns the order search window.
func (c Config) OrderTTL() time.Duration { return time.Duration(c.OrderTTLSeconds) * time.Second }

// LockTTL returns the acceptance lock TTL.
func (c Config) LockTTL() time.Duration { return time.Duration(c.LockTTLSeconds) * time.Second }

// HoldWindow returns the broadcast hold duration.
func (c Config) HoldWindow() time.Duration { return time.Duration(c.HoldWindowSeconds) * time.Second }

// IdempotencyTTL returns the response replay window.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}
