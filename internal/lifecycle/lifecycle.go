package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func BuildLogger(level string, json bool) *slog.Logger {
	return newLogger(os.Stdout, level, json)
}

func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}

// Process describes a long-running component started by a binary.
type Process struct {
	Name            string
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	Run             func(ctx context.Context) error
	// Shutdown is optional and runs after Run returns or is abandoned.
	Shutdown func(ctx context.Context)
}

// RunWithSignals runs p until it returns, ctx ends or SIGINT/SIGTERM
// arrives. The first signal cancels Run and waits up to ShutdownTimeout;
// a second signal stops waiting immediately.
func RunWithSignals(ctx context.Context, p Process) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return run(ctx, p, sigCh)
}

func run(ctx context.Context, p Process, sigCh <-chan os.Signal) error {
	p.Logger.Info("starting " + p.Name)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- p.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		p.Logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", p.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(p.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			p.Logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			p.Logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", p.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	if p.Shutdown != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), p.ShutdownTimeout)
		defer cancelShutdown()
		p.Shutdown(shutdownCtx)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	p.Logger.Info(p.Name + " stopped")
	return nil
}
