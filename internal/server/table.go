package server

import (
	"sort"
	"sync"
	"time"

	"edgepolicy/internal/model"
)

// Entry is the last decision recorded for one edge node.
type Entry struct {
	Profile   model.Profile
	CPU       float64
	RAM       float64
	Traffic   string
	Peer      string
	UpdatedAt time.Time
}

type Record struct {
	SourceIP string
	Entry
}

// ProfileTable maps a reported source IP to its current profile. Every
// mutation happens under one exclusive lock; the last writer wins.
type ProfileTable struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewProfileTable() *ProfileTable {
	return &ProfileTable{entries: make(map[string]Entry)}
}

// Set stores e for sourceIP and returns the profile it replaced.
func (t *ProfileTable) Set(sourceIP string, e Entry) (prev model.Profile, existed bool) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old, existed := t.entries[sourceIP]
	t.entries[sourceIP] = e
	return old.Profile, existed
}

func (t *ProfileTable) Get(sourceIP string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sourceIP]
	return e, ok
}

func (t *ProfileTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot copies the table sorted by source IP.
func (t *ProfileTable) Snapshot() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.entries))
	for ip, e := range t.entries {
		out = append(out, Record{SourceIP: ip, Entry: e})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceIP < out[j].SourceIP })
	return out
}
