package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/haulex/dispatch/core/model"
)

// startRedis spins up a Redis container and returns a connected client.
func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	cli, err := NewClient(Config{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return cli
}

func TestLockerIntegration(t *testing.T) {
	cli := startRedis(t)
	l := NewLocker(cli)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "truckreq:tr1", "tok-a", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := l.Acquire(ctx, "truckreq:tr1", "tok-b", 30*time.Second); ok {
		t.Fatal("second acquire succeeded while held")
	}
	// wrong token cannot release
	if ok, _ := l.Release(ctx, "truckreq:tr1", "tok-b"); ok {
		t.Fatal("release with foreign token succeeded")
	}
	if ok, err := l.Release(ctx, "truckreq:tr1", "tok-a"); err != nil || !ok {
		t.Fatalf("owner release: ok=%v err=%v", ok, err)
	}
	if ok, _ := l.Acquire(ctx, "truckreq:tr1", "tok-b", 30*time.Second); !ok {
		t.Fatal("lock not free after release")
	}
}

func TestLockerTTLIntegration(t *testing.T) {
	cli := startRedis(t)
	l := NewLocker(cli)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "k", "tok-a", 500*time.Millisecond); !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(700 * time.Millisecond)
	if ok, _ := l.Acquire(ctx, "k", "tok-b", 30*time.Second); !ok {
		t.Fatal("lock not released by TTL")
	}
	// the stale owner's release must not free the new owner's lock
	if ok, _ := l.Release(ctx, "k", "tok-a"); ok {
		t.Fatal("stale token released new lock")
	}
}

func TestGeoIndexIntegration(t *testing.T) {
	cli := startRedis(t)
	g := NewGeoIndex(cli)
	ctx := context.Background()
	pickup := model.Point{Lat: 48.8566, Lon: 2.3522}

	near := model.Transporter{
		ID:          "near",
		VehicleType: "flatbed",
		Location:    model.Point{Lat: 48.90, Lon: 2.35},
		OnlineSince: time.Now().Add(-2 * time.Hour),
		ReportedAt:  time.Now(),
	}
	far := model.Transporter{
		ID:          "far",
		VehicleType: "flatbed",
		Location:    model.Point{Lat: 49.25, Lon: 2.35},
		ReportedAt:  time.Now(),
	}
	other := model.Transporter{
		ID:          "reefer",
		VehicleType: "refrigerated",
		Location:    model.Point{Lat: 48.86, Lon: 2.35},
		ReportedAt:  time.Now(),
	}
	for _, tr := range []model.Transporter{near, far, other} {
		if err := g.Update(ctx, tr); err != nil {
			t.Fatalf("update %s: %v", tr.ID, err)
		}
	}

	cands, err := g.Near(ctx, pickup, 10, "flatbed", "")
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if len(cands) != 1 || cands[0].TransporterID != "near" {
		t.Fatalf("10km ring = %+v, want only near", cands)
	}
	if cands[0].OnlineSince.IsZero() {
		t.Fatal("online since not round-tripped")
	}

	cands, err = g.Near(ctx, pickup, 60, "flatbed", "")
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("60km ring = %d candidates, want 2", len(cands))
	}

	if err := g.Remove(ctx, "near"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	cands, _ = g.Near(ctx, pickup, 10, "flatbed", "")
	if len(cands) != 0 {
		t.Fatal("removed transporter still returned")
	}
}

func TestIdempotencyCacheIntegration(t *testing.T) {
	cli := startRedis(t)
	c := NewIdempotencyCache(cli)
	ctx := context.Background()

	if _, hit, err := c.Get(ctx, "cust", "key"); err != nil || hit {
		t.Fatalf("empty get: hit=%v err=%v", hit, err)
	}
	if err := c.Put(ctx, "cust", "key", []byte(`{"order":"o1"}`), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, hit, err := c.Get(ctx, "cust", "key")
	if err != nil || !hit {
		t.Fatalf("get: hit=%v err=%v", hit, err)
	}
	if string(got) != `{"order":"o1"}` {
		t.Fatalf("payload = %s", got)
	}
	if _, hit, _ := c.Get(ctx, "other", "key"); hit {
		t.Fatal("key leaked across customers")
	}
}
