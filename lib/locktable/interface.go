package locktable

import (
	"context"
	"errors"
	"time"
)

// ConnID identifies the connection that requested a lock
type ConnID uint64

// ErrAcquireTimeout is returned by Acquire when some of the requested keys are
// still held when the wait timeout expires.
var ErrAcquireTimeout = errors.New("acquire timeout")

// Entry is the record of a held key
type Entry struct {
	AcquiredAt time.Time // When the key was granted
	Owner      ConnID    // Connection the key was granted to
	Handle     string    // Transport reference of the owner (peer address)
}

// AcquireRequest describes a single lock request
type AcquireRequest struct {
	Keys    []string      // Keys to lock, all or nothing
	Wait    time.Duration // How long to wait for held keys, 0 fails immediately
	Release time.Duration // Release the keys after this duration, 0 for no timer
	Owner   ConnID        // Requesting connection
	Handle  string        // Transport reference of the requesting connection
	Arrived time.Time     // When the request arrived, the wait deadline starts here. Zero means now.
}

// Stats is a point in time view of the table
type Stats struct {
	Keys    int // Number of held keys
	Owners  int // Number of connections holding at least one key
	Waiters int // Number of Acquire calls currently waiting for a release
}

// ILockTable defines the interface of the shared lock table.
// All methods are safe for concurrent use.
type ILockTable interface {
	// Acquire locks all keys of the request for req.Owner, or none of them.
	// If any key is held it waits until all keys are free or the wait deadline
	// passes. On timeout it returns ErrAcquireTimeout together with the keys that
	// were still held at the deadline (in request order). If the context is
	// cancelled it returns the context error and the keys held at that moment.
	// With req.Release > 0 a release of the keys is scheduled that is never cancelled.
	Acquire(ctx context.Context, req AcquireRequest) (held []string, err error)

	// Release removes the given keys from the table regardless of their recorded
	// owner and removes them from the owners key set. Absent keys are ignored,
	// so releasing the same keys twice is safe.
	Release(owner ConnID, keys []string)

	// Lookup returns the entry of a held key
	Lookup(key string) (Entry, bool)

	// KeysOf returns the keys currently held by a connection
	KeysOf(owner ConnID) []string

	// Stats returns the current size of the table
	Stats() Stats
}
