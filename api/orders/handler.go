// Package orders exposes the read-only dispatch HTTP API: the customer's
// active order and the live fleet presence list.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/model"
)

// OrderReader is the slice of the dispatch engine the API needs.
type OrderReader interface {
	GetActiveOrder(ctx context.Context, customerID string) (*dispatch.OrderResponse, error)
}

// FleetLister enumerates current transporter presence.
type FleetLister interface {
	List(ctx context.Context) ([]model.Transporter, error)
}

// NewActiveOrderHandler returns an HTTP handler exposing the customer's active
// order via GET /orders/active?customer_id=.
func NewActiveOrderHandler(engine OrderReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		customerID := r.URL.Query().Get("customer_id")
		if customerID == "" {
			http.Error(w, "customer_id is required", http.StatusBadRequest)
			return
		}
		resp, err := engine.GetActiveOrder(r.Context(), customerID)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// NewFleetHandler returns an HTTP handler exposing transporter presence via
// GET /fleet.
func NewFleetHandler(fleet FleetLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entries, err := fleet.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []model.Transporter{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps the engine's typed errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}
	var ve dispatch.ValidationError
	var ce dispatch.ConflictError
	var nfe dispatch.NotFoundError
	var ee dispatch.ExpiredError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &ce):
		status = http.StatusConflict
		body.Reason = ce.Reason
	case errors.As(err, &nfe):
		status = http.StatusNotFound
	case errors.As(err, &ee):
		status = http.StatusGone
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
