package locktable

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// checkConsistency verifies that every entry is in exactly the set of its owner
// and that no set contains a key that is not owned by that set's connection
func checkConsistency(t *testing.T, table ILockTable) {
	t.Helper()
	impl := table.(*tableImpl)
	impl.mu.Lock()
	defer impl.mu.Unlock()

	for key, entry := range impl.entries {
		count := 0
		for owner, set := range impl.owners {
			if _, ok := set[key]; ok {
				count++
				if owner != entry.Owner {
					t.Errorf("Key %q is in the set of conn %d but owned by conn %d", key, owner, entry.Owner)
				}
			}
		}
		if count != 1 {
			t.Errorf("Key %q is in %d key sets, expected 1", key, count)
		}
	}
	for owner, set := range impl.owners {
		if len(set) == 0 {
			t.Errorf("Empty key set of conn %d was not deleted", owner)
		}
		for key := range set {
			if _, ok := impl.entries[key]; !ok {
				t.Errorf("Key %q is in the set of conn %d but has no entry", key, owner)
			}
		}
	}
}

// TestAcquireAndRelease tests the basic grant and release cycle
func TestAcquireAndRelease(t *testing.T) {
	table := NewLockTable()

	held, err := table.Acquire(context.Background(), AcquireRequest{
		Keys:   []string{"a", "b"},
		Owner:  1,
		Handle: "127.0.0.1:1234",
	})
	if err != nil || held != nil {
		t.Fatalf("Expected grant, got held=%v err=%v", held, err)
	}

	entry, ok := table.Lookup("a")
	if !ok || entry.Owner != 1 || entry.Handle != "127.0.0.1:1234" || entry.AcquiredAt.IsZero() {
		t.Errorf("Unexpected entry for key a: %+v (found=%v)", entry, ok)
	}
	if keys := table.KeysOf(1); !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Errorf("Expected keys [a b], got %v", keys)
	}
	if stats := table.Stats(); stats.Keys != 2 || stats.Owners != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	checkConsistency(t, table)

	table.Release(1, []string{"a", "b"})

	if _, ok := table.Lookup("a"); ok {
		t.Error("Key a should be free after release")
	}
	if keys := table.KeysOf(1); keys != nil {
		t.Errorf("Expected no keys for conn 1, got %v", keys)
	}
	if stats := table.Stats(); stats.Keys != 0 || stats.Owners != 0 {
		t.Errorf("Unexpected stats after release %+v", stats)
	}
	checkConsistency(t, table)
}

// TestAcquireEmpty tests that a request without keys does not create a key set
func TestAcquireEmpty(t *testing.T) {
	table := NewLockTable()
	if _, err := table.Acquire(context.Background(), AcquireRequest{Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats := table.Stats(); stats.Owners != 0 {
		t.Errorf("Expected no owners, got %+v", stats)
	}
}

// TestAcquireHeldBySameOwner tests that a connection cannot lock a key it already holds
func TestAcquireHeldBySameOwner(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"x"}, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	held, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"x"}, Owner: 1})
	if !errors.Is(err, ErrAcquireTimeout) || !reflect.DeepEqual(held, []string{"x"}) {
		t.Errorf("Expected acquire timeout for [x], got held=%v err=%v", held, err)
	}
}

// TestAcquireTimeout tests the wait deadline and the reported held keys
func TestAcquireTimeout(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"a", "c"}, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	testCases := []struct {
		name string
		wait time.Duration
	}{
		{"no wait", 0},
		{"short wait", 100 * time.Millisecond},
		{"longer wait", 300 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			held, err := table.Acquire(ctx, AcquireRequest{
				Keys:    []string{"a", "b", "c"},
				Wait:    tc.wait,
				Owner:   2,
				Arrived: start,
			})
			elapsed := time.Since(start)

			if !errors.Is(err, ErrAcquireTimeout) {
				t.Fatalf("Expected ErrAcquireTimeout, got %v", err)
			}
			if !reflect.DeepEqual(held, []string{"a", "c"}) {
				t.Errorf("Expected held keys [a c], got %v", held)
			}
			if elapsed < tc.wait {
				t.Errorf("Returned after %s, before the wait timeout of %s", elapsed, tc.wait)
			}
			if elapsed > tc.wait+100*time.Millisecond {
				t.Errorf("Returned after %s, too long after the wait timeout of %s", elapsed, tc.wait)
			}
		})
	}

	// the failed requests must not have granted anything
	if _, ok := table.Lookup("b"); ok {
		t.Error("Key b must not be granted by a failed request")
	}
	checkConsistency(t, table)
}

// TestAcquireDeadlineFromArrival tests that the deadline starts at the arrival time
func TestAcquireDeadlineFromArrival(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"k"}, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	start := time.Now()
	_, err := table.Acquire(ctx, AcquireRequest{
		Keys:    []string{"k"},
		Wait:    time.Second,
		Owner:   2,
		Arrived: start.Add(-time.Second),
	})
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("Expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected immediate timeout, took %s", elapsed)
	}
}

// TestAcquireWakesOnRelease tests that a waiting request is granted as soon as the keys are released
func TestAcquireWakesOnRelease(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"a", "b"}, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"a", "b"}, Wait: 5 * time.Second, Owner: 2})
		result <- err
	}()

	// wait until the request is waiting
	deadline := time.Now().Add(time.Second)
	for table.Stats().Waiters != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Request did not start waiting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// releasing only one key must not grant the request
	table.Release(1, []string{"a"})
	select {
	case err := <-result:
		t.Fatalf("Request returned while key b was still held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	start := time.Now()
	table.Release(1, []string{"b"})
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Expected grant, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("Grant took %s after release", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("Request was not granted after release")
	}

	if keys := table.KeysOf(2); !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Errorf("Expected conn 2 to hold [a b], got %v", keys)
	}
	if stats := table.Stats(); stats.Waiters != 0 {
		t.Errorf("Expected no waiters, got %d", stats.Waiters)
	}
	checkConsistency(t, table)
}

// TestAcquireContextCancel tests that a waiting request ends when its context is cancelled
func TestAcquireContextCancel(t *testing.T) {
	table := NewLockTable()

	if _, err := table.Acquire(context.Background(), AcquireRequest{Keys: []string{"k"}, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	held, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"k"}, Wait: 5 * time.Second, Owner: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context error, got %v", err)
	}
	if !reflect.DeepEqual(held, []string{"k"}) {
		t.Errorf("Expected held keys [k], got %v", held)
	}
	if stats := table.Stats(); stats.Waiters != 0 {
		t.Errorf("Expected no waiters, got %d", stats.Waiters)
	}
}

// TestReleaseTimer tests that keys with a release timeout are released by the timer
func TestReleaseTimer(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"y"}, Release: 100 * time.Millisecond, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// a second request waiting long enough gets the key once the timer fired
	start := time.Now()
	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"y"}, Wait: time.Second, Owner: 2}); err != nil {
		t.Fatalf("Expected grant after release timer, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Key was granted after %s, before the release timer", elapsed)
	}
	if entry, _ := table.Lookup("y"); entry.Owner != 2 {
		t.Errorf("Expected conn 2 to own y, got %d", entry.Owner)
	}
	checkConsistency(t, table)
}

// TestReleaseTimerNotCancelled tests that a release timer still fires after the keys were
// released and granted again, and then releases the new holder's key
func TestReleaseTimerNotCancelled(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"k"}, Release: 100 * time.Millisecond, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	table.Release(1, []string{"k"})

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"k"}, Owner: 2}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	if _, ok := table.Lookup("k"); ok {
		t.Error("Expected the release timer of conn 1 to release k")
	}
	if keys := table.KeysOf(2); keys != nil {
		t.Errorf("Expected conn 2 to hold nothing, got %v", keys)
	}
	checkConsistency(t, table)
}

// TestReleaseIdempotent tests releasing absent, overlapping and empty key sets
func TestReleaseIdempotent(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"a", "b", "c"}, Owner: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := table.Acquire(ctx, AcquireRequest{Keys: []string{"d"}, Owner: 2}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	table.Release(1, []string{"a", "b"})
	table.Release(1, []string{"b", "c"})
	table.Release(1, []string{"a", "b", "c", "unknown"})
	table.Release(1, nil)
	table.Release(3, []string{"nothing"})
	checkConsistency(t, table)

	if keys := table.KeysOf(1); keys != nil {
		t.Errorf("Expected conn 1 to hold nothing, got %v", keys)
	}
	if keys := table.KeysOf(2); !reflect.DeepEqual(keys, []string{"d"}) {
		t.Errorf("Expected conn 2 to hold [d], got %v", keys)
	}

	// release by a different connection removes the key from its real owner
	table.Release(1, []string{"d"})
	if stats := table.Stats(); stats.Keys != 0 || stats.Owners != 0 {
		t.Errorf("Expected empty table, got %+v", stats)
	}
	checkConsistency(t, table)
}

// TestMutualExclusion runs many concurrent acquire/release cycles on overlapping
// key sets and verifies that no key is ever held by two requests
func TestMutualExclusion(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	const numWorkers = 16
	const iterations = 200
	keys := []string{"k0", "k1", "k2", "k3", "k4"}

	var active [5]int32
	var granted, timedOut atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(worker)))
			owner := ConnID(worker + 1)

			for i := 0; i < iterations; i++ {
				// pick a random non-empty subset
				var idx []int
				var req []string
				for j := range keys {
					if rnd.Intn(2) == 0 {
						idx = append(idx, j)
						req = append(req, keys[j])
					}
				}
				if len(req) == 0 {
					idx = []int{rnd.Intn(len(keys))}
					req = []string{keys[idx[0]]}
				}

				_, err := table.Acquire(ctx, AcquireRequest{Keys: req, Wait: 20 * time.Millisecond, Owner: owner})
				if errors.Is(err, ErrAcquireTimeout) {
					timedOut.Add(1)
					continue
				}
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				granted.Add(1)

				for _, j := range idx {
					if n := atomic.AddInt32(&active[j], 1); n != 1 {
						t.Errorf("Key %s held by %d requests at once", keys[j], n)
					}
				}
				if rnd.Intn(4) == 0 {
					time.Sleep(time.Millisecond)
				}
				for _, j := range idx {
					atomic.AddInt32(&active[j], -1)
				}

				table.Release(owner, req)
			}
		}(w)
	}

	wg.Wait()

	if granted.Load() == 0 {
		t.Error("No request was granted")
	}
	t.Logf("granted=%d timed out=%d", granted.Load(), timedOut.Load())

	if stats := table.Stats(); stats.Keys != 0 || stats.Owners != 0 || stats.Waiters != 0 {
		t.Errorf("Expected empty table, got %+v", stats)
	}
	checkConsistency(t, table)
}

// TestManyKeysManyOwners fills the table and checks the consistency invariant
func TestManyKeysManyOwners(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	for owner := 1; owner <= 50; owner++ {
		keys := make([]string, 0, 20)
		for i := 0; i < 20; i++ {
			keys = append(keys, fmt.Sprintf("conn%d:key%d", owner, i))
		}
		if _, err := table.Acquire(ctx, AcquireRequest{Keys: keys, Owner: ConnID(owner)}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if stats := table.Stats(); stats.Keys != 1000 || stats.Owners != 50 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	checkConsistency(t, table)

	for owner := 1; owner <= 50; owner++ {
		table.Release(ConnID(owner), table.KeysOf(ConnID(owner)))
	}
	if stats := table.Stats(); stats.Keys != 0 || stats.Owners != 0 {
		t.Errorf("Expected empty table, got %+v", stats)
	}
}
