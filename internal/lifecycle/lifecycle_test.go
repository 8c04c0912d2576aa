package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn", true)
	l.Info("hidden")
	l.Warn("shown", "profile", "Idle")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"profile":"Idle"`) {
		t.Fatalf("expected json output, got %s", out)
	}
}

func TestRunReturnsRunError(t *testing.T) {
	want := errors.New("bind failed")
	shutdownCalled := false
	err := run(context.Background(), Process{
		Name:            "test",
		Logger:          quiet(),
		ShutdownTimeout: time.Second,
		Run:             func(context.Context) error { return want },
		Shutdown:        func(context.Context) { shutdownCalled = true },
	}, nil)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if !shutdownCalled {
		t.Fatal("shutdown hook not called")
	}
}

func TestSignalCancelsRun(t *testing.T) {
	sigCh := make(chan os.Signal, 2)
	sigCh <- syscall.SIGTERM
	err := run(context.Background(), Process{
		Name:            "test",
		Logger:          quiet(),
		ShutdownTimeout: time.Second,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}, sigCh)
	if err != nil {
		t.Fatalf("graceful stop should return nil, got %v", err)
	}
}

func TestSecondSignalForcesExit(t *testing.T) {
	sigCh := make(chan os.Signal, 2)
	sigCh <- syscall.SIGINT
	sigCh <- syscall.SIGINT
	release := make(chan struct{})
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), Process{
			Name:            "test",
			Logger:          quiet(),
			ShutdownTimeout: time.Minute,
			Run: func(context.Context) error {
				<-release
				return nil
			},
		}, sigCh)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("forced exit should return nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestGraceTimeout(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGTERM
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := run(context.Background(), Process{
		Name:            "test",
		Logger:          quiet(),
		ShutdownTimeout: 100 * time.Millisecond,
		Run: func(context.Context) error {
			<-release
			return nil
		},
	}, sigCh)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("grace timeout not enforced")
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveListener(ctx, ln, HealthHandler(func() map[string]any {
			return map[string]any{"profile": "Idle"}
		}), quiet())
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["profile"] != "Idle" {
		t.Fatalf("body = %v", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
