package locktable

import (
	"context"
	"github.com/lni/dragonboat/v4/logger"
	"sort"
	"sync"
	"time"
)

var Logger = logger.GetLogger("locktable")

type tableImpl struct {
	mu      sync.Mutex
	entries map[string]Entry
	owners  map[ConnID]map[string]struct{}
	waiters int

	// released is closed and replaced whenever keys are removed from the table.
	// Waiting Acquire calls block on it.
	released chan struct{}
}

// NewLockTable creates a new, empty lock table
func NewLockTable() ILockTable {
	return &tableImpl{
		entries:  make(map[string]Entry),
		owners:   make(map[ConnID]map[string]struct{}),
		released: make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Acquire
// --------------------------------------------------------------------------

func (t *tableImpl) Acquire(ctx context.Context, req AcquireRequest) ([]string, error) {
	if len(req.Keys) == 0 {
		return nil, nil
	}

	arrived := req.Arrived
	if arrived.IsZero() {
		arrived = time.Now()
	}
	deadline := arrived.Add(req.Wait)

	var (
		timer   *time.Timer
		expired bool
		waiting bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		t.mu.Lock()
		if waiting {
			t.waiters--
			waiting = false
		}

		// check and commit happen under the same lock
		held := t.heldLocked(req.Keys)
		if len(held) == 0 {
			t.commitLocked(req)
			t.mu.Unlock()
			if req.Release > 0 {
				t.scheduleRelease(req.Owner, req.Keys, req.Release)
			}
			return nil, nil
		}

		remaining := time.Until(deadline)
		if expired || remaining <= 0 {
			t.mu.Unlock()
			return held, ErrAcquireTimeout
		}

		wake := t.released
		t.waiters++
		waiting = true
		t.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(remaining)
		}

		select {
		case <-wake:
		case <-timer.C:
			expired = true
		case <-ctx.Done():
			t.mu.Lock()
			t.waiters--
			held = t.heldLocked(req.Keys)
			t.mu.Unlock()
			return held, ctx.Err()
		}
	}
}

// heldLocked returns the requested keys that currently have an entry, in request order
func (t *tableImpl) heldLocked(keys []string) []string {
	var held []string
	for _, key := range keys {
		if _, ok := t.entries[key]; ok {
			held = append(held, key)
		}
	}
	return held
}

// commitLocked grants all keys of the request to its owner
func (t *tableImpl) commitLocked(req AcquireRequest) {
	now := time.Now()
	set, ok := t.owners[req.Owner]
	if !ok {
		set = make(map[string]struct{}, len(req.Keys))
		t.owners[req.Owner] = set
	}
	for _, key := range req.Keys {
		t.entries[key] = Entry{
			AcquiredAt: now,
			Owner:      req.Owner,
			Handle:     req.Handle,
		}
		set[key] = struct{}{}
	}
}

// scheduleRelease releases the keys after the delay. The timer is never stopped,
// an earlier release of the same keys makes it a no-op.
func (t *tableImpl) scheduleRelease(owner ConnID, keys []string, delay time.Duration) {
	keys = append([]string(nil), keys...)
	time.AfterFunc(delay, func() {
		Logger.Debugf("release timer of conn %d fired for %d key(s)", owner, len(keys))
		t.Release(owner, keys)
	})
}

// --------------------------------------------------------------------------
// Release
// --------------------------------------------------------------------------

func (t *tableImpl) Release(owner ConnID, keys []string) {
	if len(keys) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := false
	for _, key := range keys {
		if entry, ok := t.entries[key]; ok {
			delete(t.entries, key)
			t.dropFromSetLocked(entry.Owner, key)
			removed = true
		}
		t.dropFromSetLocked(owner, key)
	}

	if removed {
		close(t.released)
		t.released = make(chan struct{})
	}
}

// dropFromSetLocked removes a key from a connections set and deletes the set once empty
func (t *tableImpl) dropFromSetLocked(owner ConnID, key string) {
	set, ok := t.owners[owner]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(t.owners, owner)
	}
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

func (t *tableImpl) Lookup(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	return entry, ok
}

func (t *tableImpl) KeysOf(owner ConnID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.owners[owner]
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (t *tableImpl) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Keys:    len(t.entries),
		Owners:  len(t.owners),
		Waiters: t.waiters,
	}
}
