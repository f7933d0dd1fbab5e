package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestStore_Load(t *testing.T) {
	s := NewStore()
	if s.Key() != "psicash:datastore" {
		t.Errorf("default key = %q", s.Key())
	}

	cfg := &Config{Addr: "cache:6380", Password: "pw", DB: 2, Key: "client:1"}
	if err := s.Load(cfg.ToMap()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.cfg != *cfg {
		t.Errorf("cfg = %+v, want %+v", s.cfg, *cfg)
	}

	if err := s.Load(map[string]interface{}{"db": "not-a-number"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestStore_NotConfigured(t *testing.T) {
	s := NewStore()
	if _, err := s.Read(context.Background()); err == nil {
		t.Error("Read without client should fail")
	}
	if err := s.Write(context.Background(), []byte("{}")); err == nil {
		t.Error("Write without client should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestStore_ConnectUnreachable(t *testing.T) {
	s := NewStore()
	_ = s.Load(map[string]interface{}{"addr": "127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err == nil {
		t.Error("expected connect error for unreachable redis")
	}
	_ = s.Close()
}

func TestStore_Redis_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	rc, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("skipping Redis container test: %v", err)
		return
	}
	defer func() { _ = rc.Terminate(ctx) }()

	host, err := rc.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := rc.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	s := NewStore()
	_ = s.Load(map[string]interface{}{"addr": fmt.Sprintf("%s:%s", host, port.Port()), "key": "test:datastore"})
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = s.Close() }()

	if data, err := s.Read(ctx); err != nil || data != nil {
		t.Fatalf("empty Read = %q, %v", data, err)
	}
	if err := s.Write(ctx, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := s.Read(ctx)
	if err != nil || string(data) != `{"version":1}` {
		t.Fatalf("Read = %q, %v", data, err)
	}
}
