// Package locktable implements the in-memory lock table of the dLock server.
// It maps every held key to the connection that holds it and every connection
// to the set of keys it holds.
//
// Invariants:
//
//   - At most one Entry exists per key at any instant.
//   - A key has an Entry if and only if it is in exactly one connections key
//     set, namely the set of the Entry's owner.
//   - Key sets are created on the first grant to a connection and deleted as
//     soon as they become empty.
//
// Acquisition:
//
//	A request is granted all or nothing. The check for held keys and the
//	commit of the grant happen under one table wide mutex, so two concurrent
//	requests can never both observe a key as free. If keys are held the caller
//	waits on a notification channel that is closed and replaced on every
//	release, and re-checks after each wake-up. The wait deadline is measured
//	from the arrival of the request and is not extended by wake-ups.
//
// Release:
//
//	Release removes keys without checking the recorded owner. Releasing an
//	absent key is a no-op, which makes release idempotent. This matters
//	because a release timer is never cancelled: a timer may fire after the
//	keys were already released by a disconnect, or even after they were
//	granted to another connection, in which case that connection loses them.
//
// Known limitations:
//
//	There is no deadlock detection and no ordering among waiters for the same
//	key. All state is volatile and lost when the process exits.
//
// Usage Example:
//
//	table := locktable.NewLockTable()
//
//	held, err := table.Acquire(ctx, locktable.AcquireRequest{
//	    Keys:  []string{"resource:1", "resource:2"},
//	    Wait:  5 * time.Second,
//	    Owner: connID,
//	})
//	if errors.Is(err, locktable.ErrAcquireTimeout) {
//	    // held lists the keys that were still locked
//	}
//
//	// ... later, on disconnect
//	table.Release(connID, []string{"resource:1", "resource:2"})
package locktable
