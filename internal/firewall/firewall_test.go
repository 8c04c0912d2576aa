package firewall

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"edgepolicy/internal/model"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firewall.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyPassesToken(t *testing.T) {
	out := filepath.Join(t.TempDir(), "arg")
	script := writeScript(t, `printf "%s" "$1" > `+out)

	tests := []struct {
		profile model.Profile
		token   string
	}{
		{model.ProfileIdle, "idle"},
		{model.ProfileLowActivity, "low"},
		{model.ProfileHighActivity, "high"},
		{model.ProfileCriticalTask, "critical"},
	}
	a := &ScriptApplier{Script: script, Timeout: 5 * time.Second}
	for _, tt := range tests {
		if err := a.Apply(context.Background(), tt.profile); err != nil {
			t.Fatalf("Apply(%s): %v", tt.profile, err)
		}
		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tt.token {
			t.Fatalf("token for %s = %q, want %q", tt.profile, got, tt.token)
		}
	}
}

func TestApplyReportsStderr(t *testing.T) {
	script := writeScript(t, `echo "nft: permission denied" >&2; exit 3`)
	err := (&ScriptApplier{Script: script}).Apply(context.Background(), model.ProfileHighActivity)
	var ae *ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *ApplyError", err)
	}
	if ae.Stderr != "nft: permission denied" || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("stderr not carried: %v", err)
	}
}

func TestApplyMissingScript(t *testing.T) {
	a := &ScriptApplier{Script: filepath.Join(t.TempDir(), "nope.sh")}
	if err := a.Apply(context.Background(), model.ProfileIdle); err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestApplyUnknownProfile(t *testing.T) {
	a := &ScriptApplier{Script: writeScript(t, "exit 0")}
	if err := a.Apply(context.Background(), model.Profile("Turbo")); !errors.Is(err, model.ErrUnknownProfile) {
		t.Fatalf("err = %v, want ErrUnknownProfile", err)
	}
}

func TestApplyTimeout(t *testing.T) {
	a := &ScriptApplier{Script: writeScript(t, "exec sleep 5"), Timeout: 100 * time.Millisecond}
	start := time.Now()
	err := a.Apply(context.Background(), model.ProfileLowActivity)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout not enforced")
	}
}
