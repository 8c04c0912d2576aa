package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"edgepolicy/internal/model"
)

// Applier reconfigures local packet filtering for a profile.
type Applier interface {
	Apply(ctx context.Context, p model.Profile) error
}

// ApplyError reports a failed script run together with its stderr.
type ApplyError struct {
	Profile model.Profile
	Err     error
	Stderr  string
}

func (e *ApplyError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("apply %q: %v: %s", e.Profile, e.Err, e.Stderr)
	}
	return fmt.Sprintf("apply %q: %v", e.Profile, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ScriptApplier runs `[sudo] <Script> <token>`.
type ScriptApplier struct {
	Script  string
	UseSudo bool
	Timeout time.Duration
	Logger  *slog.Logger
}

func (a *ScriptApplier) Apply(ctx context.Context, p model.Profile) error {
	if !p.Valid() {
		return &ApplyError{Profile: p, Err: model.ErrUnknownProfile}
	}
	if strings.TrimSpace(a.Script) == "" {
		return &ApplyError{Profile: p, Err: errors.New("firewall script not configured")}
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	name, args := a.Script, []string{p.Token()}
	if a.UseSudo {
		name, args = "sudo", append([]string{"-n", a.Script}, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return &ApplyError{Profile: p, Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	if a.Logger != nil {
		a.Logger.Info("firewall profile applied", "profile", p.String(), "token", p.Token(), "output", strings.TrimSpace(stdout.String()))
	}
	return nil
}
