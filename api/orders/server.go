package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/haulex/dispatch/infra/logger"
)

// Config defines the API server settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// StartServer serves the read-only API until the context is canceled.
func StartServer(ctx context.Context, addr string, engine OrderReader, fleet FleetLister) error {
	log := logger.New("api_server")
	mux := http.NewServeMux()
	mux.Handle("/orders/active", NewActiveOrderHandler(engine))
	mux.Handle("/fleet", NewFleetHandler(fleet))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("api server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
