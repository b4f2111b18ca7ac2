package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/perbu/policyrag/pkg/snapshot"
)

// Holder owns the snapshot being served. Queries read it without locking;
// a reload builds the replacement fully before swapping it in, so a query
// sees either the old snapshot or the new one.
type Holder struct {
	cur    atomic.Pointer[snapshot.Snapshot]
	reload sync.Mutex
	log    logr.Logger
}

// NewHolder returns a Holder serving snap. A nil snap starts the holder
// empty until the first successful Reload.
func NewHolder(snap *snapshot.Snapshot, log logr.Logger) *Holder {
	h := &Holder{log: log}
	h.swap(snap)
	return h
}

// Current returns the snapshot to search, or nil before the first load.
func (h *Holder) Current() *snapshot.Snapshot {
	return h.cur.Load()
}

// swap installs snap and returns the previous snapshot.
func (h *Holder) swap(snap *snapshot.Snapshot) *snapshot.Snapshot {
	old := h.cur.Swap(snap)
	count := 0
	if snap != nil {
		count = snap.Header.Count
	}
	snapshotSegments.Set(float64(count))
	return old
}

// Reload loads the snapshot in dir and swaps it in. On failure the current
// snapshot stays in place.
func (h *Holder) Reload(dir string) (*snapshot.Snapshot, error) {
	h.reload.Lock()
	defer h.reload.Unlock()

	snap, err := snapshot.Load(dir)
	if err != nil {
		snapshotReloads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reloading %s: %w", dir, err)
	}
	old := h.swap(snap)
	snapshotReloads.WithLabelValues("ok").Inc()

	kv := []any{"id", snap.Header.SnapshotID, "count", snap.Header.Count,
		"pages", len(snap.Store.Pages()), "model", snap.Header.ModelInfo}
	if old != nil {
		kv = append(kv, "previous", old.Header.SnapshotID)
	}
	h.log.Info("snapshot loaded", kv...)
	return snap, nil
}
