package controller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"edgepolicy/internal/client"
	"edgepolicy/internal/config"
	"edgepolicy/internal/envelope"
	"edgepolicy/internal/model"
	"edgepolicy/internal/server"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) config.ControllerConfig {
	t.Helper()
	master := make([]byte, envelope.MasterKeySize)
	for i := range master {
		master[i] = byte(i + 7)
	}
	keyFile := filepath.Join(t.TempDir(), "key.conf")
	if err := os.WriteFile(keyFile, []byte("# controller key\n"+envelope.FormatKeyLine("MASTER_KEY", master)), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultController()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.KeyFile = keyFile
	cfg.KeyLabel = "MASTER_KEY"
	cfg.AcceptTimeout = 50 * time.Millisecond
	cfg.TrafficReadTimeout = 200 * time.Millisecond
	cfg.MetricsAddr = ""
	cfg.StatusAddr = ""
	return cfg
}

func TestNewRejectsMissingKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeyFile = filepath.Join(t.TempDir(), "absent.conf")
	if _, err := New(cfg, quiet()); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestNewRejectsWrongLabel(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeyLabel = "OTHER_KEY"
	if _, err := New(cfg, quiet()); err == nil {
		t.Fatal("expected error for label mismatch")
	}
}

func waitForAddr(t *testing.T, srv *server.Server) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a := srv.Addr(); a != nil && srv.State() == server.StateListening {
			return a.String()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never started listening")
	return ""
}

func TestRunServesTelemetryAndStops(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	addr := waitForAddr(t, c.Server())
	cl := client.New(client.Config{Addr: addr}, envelope.NewKeyStore(cfg.KeyFile, cfg.KeyLabel), quiet())
	d, err := cl.Cycle(context.Background(), model.Telemetry{CPU: 85, RAM: 65, Traffic: "0.05Mbps", CurrentProfile: model.ProfileLowActivity}, []byte("traffic"))
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !d.IsOK() || d.Profile != model.ProfileCriticalTask {
		t.Fatalf("directive = %+v", d)
	}

	rec := httptest.NewRecorder()
	c.httpHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if health["listening"] != true || health["profiles"] != float64(1) || health["state"] != "listening" {
		t.Fatalf("health = %v", health)
	}

	rec = httptest.NewRecorder()
	c.httpHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `edgepolicy_controller_decisions_total{profile="critical"} 1`) {
		t.Fatalf("metrics missing decision counter:\n%s", rec.Body.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("controller did not stop")
	}
	if c.Server().State() != server.StateStopped {
		t.Fatalf("state after stop = %s", c.Server().State())
	}
}
