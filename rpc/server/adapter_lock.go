package server

import (
	"errors"
	"github.com/ValentinKolb/dLock/lib/locktable"
	"github.com/ValentinKolb/dLock/lib/stats"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"time"
)

// NewLockServerAdapter creates the adapter for lock requests:
//
//	[api_version, "lock", wait_timeout, release_timeout, [key, ...]]
func NewLockServerAdapter(table locktable.ILockTable, collector *stats.Collector) IRPCServerAdapter {
	return &lockServerAdapter{
		table: table,
		stats: collector,
	}
}

type lockServerAdapter struct {
	table locktable.ILockTable
	stats *stats.Collector
}

// lockArgs are the validated arguments of a lock request
type lockArgs struct {
	wait    time.Duration
	release time.Duration // 0 means no release timer
	keys    []string
}

func (adapter *lockServerAdapter) Handle(req serializer.Value, conn *Conn) (serializer.Value, bool) {
	arrived := time.Now()

	args, perr := parseLockArgs(req)
	if perr != nil {
		Logger.Warningf("[conn %d] invalid lock request %s: %s", conn.ID, req, perr.Msg)
		adapter.stats.LockRejected()
		return perr.Response(), false
	}

	held, err := adapter.table.Acquire(conn.Context(), locktable.AcquireRequest{
		Keys:    args.keys,
		Wait:    args.wait,
		Release: args.release,
		Owner:   conn.ID,
		Handle:  conn.Peer,
		Arrived: arrived,
	})

	switch {
	case err == nil:
		// keys with a release timer are left to the timer
		if args.release == 0 {
			conn.addOwned(args.keys)
		}
		adapter.stats.LockGranted(len(args.keys), time.Since(arrived))
		Logger.Debugf("[conn %d] locked %d key(s)", conn.ID, len(args.keys))
		return common.NewOkResponse(), true

	case errors.Is(err, locktable.ErrAcquireTimeout):
		adapter.stats.LockTimedOut()
		Logger.Debugf("[conn %d] acquire timeout, held keys: %v", conn.ID, held)
		return common.NewAcquireTimeoutResponse(held), true

	default:
		// the connection is closing (client gone or server shutdown)
		Logger.Debugf("[conn %d] lock request aborted: %v", conn.ID, err)
		return common.NewErrorResponse(common.ErrCDecode, "Server shutting down"), false
	}
}

// parseLockArgs validates a lock request. The checks run in a fixed order, the
// first failing check determines the error code.
func parseLockArgs(req serializer.Value) (*lockArgs, *common.ProtocolError) {
	keyList := req.Index(4)
	if req.Len() < 5 || keyList.Kind() != serializer.KindList {
		return nil, common.NewProtocolError(common.ErrCMalformedRequest,
			"Not enough arguments. Syntax: api_version lock wait release [key...]")
	}

	wait, ok := common.ValueDuration(req.Index(2))
	if !ok || wait < 0 {
		return nil, common.NewProtocolError(common.ErrCWaitTimeout, "Acquire timeout must be int or float >= 0")
	}

	var release time.Duration
	if rv := req.Index(3); !isNoTimer(rv) {
		release, ok = common.ValueDuration(rv)
		if !ok || release <= 0 {
			return nil, common.NewProtocolError(common.ErrCReleaseTimeout, "Release timeout must be False or int or float > 0")
		}
	}

	if keyList.Len() > common.MaxKeys {
		return nil, common.NewProtocolError(common.ErrCTooManyKeys, "Attempt to lock too many keys")
	}

	keys := make([]string, 0, keyList.Len())
	for _, item := range keyList.Items() {
		key, ok := item.AsString()
		if !ok || key == "" {
			return nil, common.NewProtocolError(common.ErrCInvalidKey, "Keys must be simple strings")
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, common.NewProtocolError(common.ErrCMalformedRequest, "No keys to lock")
	}

	return &lockArgs{wait: wait, release: release, keys: keys}, nil
}

// isNoTimer reports whether a release timeout value means "no release timer"
func isNoTimer(v serializer.Value) bool {
	if v.IsNull() {
		return true
	}
	b, ok := v.AsBool()
	return ok && !b
}
