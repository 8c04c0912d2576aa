package edge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"edgepolicy/internal/config"
	"edgepolicy/internal/envelope"
	"edgepolicy/internal/server"
)

func writeKeyFile(t *testing.T) string {
	t.Helper()
	master := make([]byte, envelope.MasterKeySize)
	for i := range master {
		master[i] = byte(255 - i)
	}
	path := filepath.Join(t.TempDir(), "key.conf")
	if err := os.WriteFile(path, []byte(envelope.FormatKeyLine("MASTER_KEY", master)), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewFailsWithoutKey(t *testing.T) {
	cfg := config.DefaultEdge()
	cfg.KeyFile = filepath.Join(t.TempDir(), "missing.conf")
	if _, err := New(cfg, quiet()); err == nil {
		t.Fatal("expected key load error")
	}
}

func TestEdgeReportsToController(t *testing.T) {
	keyFile := writeKeyFile(t)
	keys := envelope.NewKeyStore(keyFile, "MASTER_KEY")

	srv := server.New(server.Config{
		Addr:               "127.0.0.1:0",
		AcceptTimeout:      50 * time.Millisecond,
		TrafficReadTimeout: 200 * time.Millisecond,
	}, keys, server.NewProfileTable(), quiet(), nil)
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve() }()
	defer srv.Stop()

	script := filepath.Join(t.TempDir(), "firewall.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultEdge()
	cfg.NodeID = "rp4-it"
	cfg.ControllerAddr = srv.Addr().String()
	cfg.KeyFile = keyFile
	cfg.KeyLabel = "MASTER_KEY"
	cfg.Period = time.Hour
	cfg.SampleWindow = 0
	cfg.TrafficBytes = 1024
	cfg.FirewallScript = script
	cfg.FirewallSudo = false
	cfg.SampleLog = filepath.Join(t.TempDir(), "samples.csv")

	e, err := New(cfg, quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Table().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	entry, ok := srv.Table().Get("127.0.0.1")
	if !ok {
		t.Fatal("controller never recorded the edge node")
	}

	// The apply happens after the reply; wait until health reflects it.
	for e.Health().Profile() != entry.Profile && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := e.Health().Profile(); got != entry.Profile {
		t.Fatalf("edge profile = %s, controller assigned %s", got, entry.Profile)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	e.Shutdown(context.Background())

	data, err := os.ReadFile(cfg.SampleLog)
	if err != nil || len(data) == 0 {
		t.Fatalf("sample log not written: %v", err)
	}
}
