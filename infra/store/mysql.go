// Package store provides dispatch.Store implementations: a MySQL store for
// production and an in-memory store for tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/model"
)

// Config defines the MySQL connection parameters.
type Config struct {
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	AutoMigrate  bool   `json:"auto_migrate"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("mysql dsn is required")
	}
	return nil
}

// MySQLStore implements dispatch.Store on gorm. Every status mutation is a
// single conditional UPDATE keyed on the current status; RowsAffected == 0 is
// the "already taken / already terminal" signal, never an error.
type MySQLStore struct {
	db *gorm.DB
}

var openTruckStatuses = []model.TruckRequestStatus{model.TruckSearching, model.TruckHeld}

var nonTerminalTruckStatuses = []model.TruckRequestStatus{
	model.TruckSearching, model.TruckHeld, model.TruckAssigned, model.TruckAccepted, model.TruckInProgress,
}

// NewMySQLStore connects to MySQL and optionally migrates the schema.
func NewMySQLStore(cfg Config) (*MySQLStore, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&model.Order{}, &model.TruckRequest{}, &model.Assignment{}, &model.BroadcastDecline{}); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreWithDB wraps an existing gorm handle. Test helper.
func NewMySQLStoreWithDB(db *gorm.DB) *MySQLStore { return &MySQLStore{db: db} }

func (s *MySQLStore) CreateOrder(ctx context.Context, o *model.Order, reqs []model.TruckRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// lock the customer's non-terminal rows so concurrent creates
		// serialize here instead of both passing the engine's read check
		var active int64
		if err := tx.Model(&model.Order{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_id = ? AND status IN ?", o.CustomerID, model.NonTerminalOrderStatuses()).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return dispatch.ConflictError{Reason: dispatch.ReasonActiveOrderExists, Msg: "customer already has an active order"}
		}
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		if len(reqs) > 0 {
			if err := tx.Create(&reqs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MySQLStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *MySQLStore) ActiveOrder(ctx context.Context, customerID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status IN ?", customerID, model.NonTerminalOrderStatuses()).
		Order("created_at DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *MySQLStore) GetTruckRequest(ctx context.Context, id string) (*model.TruckRequest, error) {
	var r model.TruckRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MySQLStore) ListTruckRequests(ctx context.Context, orderID string) ([]model.TruckRequest, error) {
	var out []model.TruckRequest
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at").Find(&out).Error
	return out, err
}

func (s *MySQLStore) UpdateOrderStatus(ctx context.Context, id string, from []model.OrderStatus, to model.OrderStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

func (s *MySQLStore) UpdateTruckRequestStatus(ctx context.Context, id string, from []model.TruckRequestStatus, to model.TruckRequestStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.TruckRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

func (s *MySQLStore) AssignTruckRequest(ctx context.Context, id string, crew dispatch.Crew) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.TruckRequest{}).
		Where("id = ? AND status IN ?", id, openTruckStatuses).
		Updates(map[string]any{
			"status":         model.TruckAssigned,
			"transporter_id": crew.TransporterID,
			"driver_id":      crew.DriverID,
			"vehicle_id":     crew.VehicleID,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *MySQLStore) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *MySQLStore) AssignmentByTruckRequest(ctx context.Context, truckRequestID string) (*model.Assignment, error) {
	var a model.Assignment
	err := s.db.WithContext(ctx).Where("truck_request_id = ?", truckRequestID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MySQLStore) UpdateAssignmentStatus(ctx context.Context, a *model.Assignment, from model.AssignmentStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Assignment{}).
		Where("truck_request_id = ? AND status = ?", a.TruckRequestID, from).
		Updates(map[string]any{
			"status":        a.Status,
			"en_route_at":   a.EnRouteAt,
			"at_pickup_at":  a.AtPickupAt,
			"in_transit_at": a.InTransitAt,
			"completed_at":  a.CompletedAt,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *MySQLStore) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	canceled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status IN ?", orderID, model.NonTerminalOrderStatuses()).
			Update("status", model.OrderCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		canceled = true
		return tx.Model(&model.TruckRequest{}).
			Where("order_id = ? AND status IN ?", orderID, nonTerminalTruckStatuses).
			Update("status", model.TruckCancelled).Error
	})
	return canceled, err
}

func (s *MySQLStore) RecordDecline(ctx context.Context, d *model.BroadcastDecline) error {
	// duplicate declines hit the unique index and are dropped silently
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(d).Error
}

func (s *MySQLStore) DeclinedTransporters(ctx context.Context, truckRequestID string) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&model.BroadcastDecline{}).
		Where("truck_request_id = ?", truckRequestID).
		Pluck("transporter_id", &out).Error
	return out, err
}

func (s *MySQLStore) ExpireDueOrders(ctx context.Context, now time.Time, limit int) (int64, error) {
	// only unfilled orders; anything with filled units settles via derivation
	res := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ? WHERE status IN ? AND expires_at <= ? LIMIT ?`,
		model.OrderExpired, []model.OrderStatus{model.OrderPending, model.OrderSearching}, now, limit,
	)
	return res.RowsAffected, res.Error
}

func (s *MySQLStore) ExpireDueTruckRequests(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var orderIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		type due struct{ ID, OrderID string }
		var rows []due
		if err := tx.Model(&model.TruckRequest{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "order_id").
			Where("status IN ? AND expires_at <= ?", openTruckStatuses, now).
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
			orderIDs = append(orderIDs, r.OrderID)
		}
		return tx.Model(&model.TruckRequest{}).
			Where("id IN ?", ids).
			Update("status", model.TruckExpired).Error
	})
	return orderIDs, err
}

func (s *MySQLStore) ExpireDueForCustomer(ctx context.Context, customerID string, now time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE truck_requests tr
			 JOIN orders o ON o.id = tr.order_id
			 SET tr.status = ?
			 WHERE o.customer_id = ? AND tr.status IN ? AND tr.expires_at <= ?`,
			model.TruckExpired, customerID, openTruckStatuses, now,
		)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Exec(
			`UPDATE orders SET status = ? WHERE customer_id = ? AND status IN ? AND expires_at <= ?`,
			model.OrderExpired, customerID, []model.OrderStatus{model.OrderPending, model.OrderSearching}, now,
		)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}
