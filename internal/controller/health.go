package controller

import (
	"sync/atomic"
	"time"
)

type Health struct {
	listening     atomic.Bool
	statusServing atomic.Bool
	startedAt     atomic.Int64
}

func NewHealth() *Health {
	return &Health{}
}

func (h *Health) SetListening(ok bool) {
	h.listening.Store(ok)
	if ok {
		h.startedAt.CompareAndSwap(0, time.Now().UnixNano())
	}
}

func (h *Health) SetStatusServing(ok bool) {
	h.statusServing.Store(ok)
}

func (h *Health) Snapshot() map[string]any {
	out := map[string]any{
		"listening":      h.listening.Load(),
		"status_serving": h.statusServing.Load(),
	}
	if v := h.startedAt.Load(); v > 0 {
		out["started_at"] = time.Unix(0, v).UTC()
	}
	return out
}
