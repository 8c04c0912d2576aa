package edge

import (
	"sync/atomic"
	"time"

	"edgepolicy/internal/model"
)

type Health struct {
	controllerReachable atomic.Bool
	lastCycleAt         atomic.Int64
	lastApplyAt         atomic.Int64
	profile             atomic.Value
	consecutiveFailures atomic.Int64
}

func NewHealth(initial model.Profile) *Health {
	h := &Health{}
	h.profile.Store(initial)
	return h
}

func (h *Health) SetControllerReachable(ok bool) {
	h.controllerReachable.Store(ok)
	if ok {
		h.consecutiveFailures.Store(0)
		return
	}
	h.consecutiveFailures.Add(1)
}

func (h *Health) MarkCycle(ts time.Time) {
	h.lastCycleAt.Store(ts.UnixNano())
}

func (h *Health) MarkApplied(p model.Profile, ts time.Time) {
	h.profile.Store(p)
	h.lastApplyAt.Store(ts.UnixNano())
}

func (h *Health) Profile() model.Profile {
	return h.profile.Load().(model.Profile)
}

func (h *Health) Snapshot() map[string]any {
	out := map[string]any{
		"controller_reachable": h.controllerReachable.Load(),
		"profile":              h.Profile().String(),
		"consecutive_failures": h.consecutiveFailures.Load(),
	}
	if v := h.lastCycleAt.Load(); v > 0 {
		out["last_cycle_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastApplyAt.Load(); v > 0 {
		out["last_apply_at"] = time.Unix(0, v).UTC()
	}
	return out
}
