package common

import (
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"math"
	"time"
)

// --------------------------------------------------------------------------
// Protocol Constants
// --------------------------------------------------------------------------

const (
	// APIVersion is the protocol version every request must start with
	APIVersion = 1

	// MaxKeys is the maximum number of keys a single lock request may name
	MaxKeys = 100
)

// Response status strings (first element of every response)
const (
	StatusOk    = "ok"
	StatusError = "error"
)

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType is the second element of every request
type MessageType string

const (
	MsgTLock MessageType = "lock" // Acquire a set of keys
	MsgTPing MessageType = "ping" // Liveness check
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrorCode is the numeric code of an error response.
//
//	1-99:    protocol level errors
//	100-119: lock request validation errors
//	120-139: lock errors for valid input
type ErrorCode int64

const (
	ErrCDecode           ErrorCode = 1   // Message could not be decoded
	ErrCAPIVersion       ErrorCode = 2   // Unsupported API version
	ErrCUnknownType      ErrorCode = 3   // Unknown message type
	ErrCMalformedRequest ErrorCode = 4   // Lock request with missing or malformed arguments
	ErrCWaitTimeout      ErrorCode = 100 // Bad wait timeout
	ErrCReleaseTimeout   ErrorCode = 101 // Bad release timeout
	ErrCTooManyKeys      ErrorCode = 102 // More than MaxKeys keys
	ErrCInvalidKey       ErrorCode = 103 // A key that is not a plain string
	ErrCAcquireTimeout   ErrorCode = 120 // Keys still held when the wait timeout expired
)

// String returns the string representation of an ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case ErrCDecode:
		return "decode"
	case ErrCAPIVersion:
		return "api-version"
	case ErrCUnknownType:
		return "unknown-type"
	case ErrCMalformedRequest:
		return "malformed-request"
	case ErrCWaitTimeout:
		return "bad-wait-timeout"
	case ErrCReleaseTimeout:
		return "bad-release-timeout"
	case ErrCTooManyKeys:
		return "too-many-keys"
	case ErrCInvalidKey:
		return "invalid-key"
	case ErrCAcquireTimeout:
		return "acquire-timeout"
	default:
		return fmt.Sprintf("code-%d", int64(c))
	}
}

// IsValidation reports whether the code belongs to the lock request validation range
func (c ErrorCode) IsValidation() bool {
	return c == ErrCMalformedRequest || (c >= 100 && c < 120)
}

// --------------------------------------------------------------------------
// Protocol Error
// --------------------------------------------------------------------------

// ProtocolError is an error that is reported to the peer as an error response
type ProtocolError struct {
	Code  ErrorCode          // The error code
	Msg   string             // The error message
	Extra []serializer.Value // Optional trailing response elements
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d (%s): %s", int64(e.Code), e.Code, e.Msg)
}

// Response converts the error into its wire representation
func (e *ProtocolError) Response() serializer.Value {
	return NewErrorResponse(e.Code, e.Msg, e.Extra...)
}

// NewProtocolError creates a new ProtocolError with the given code and message.
func NewProtocolError(code ErrorCode, msg string, extra ...serializer.Value) *ProtocolError {
	return &ProtocolError{
		Code:  code,
		Msg:   msg,
		Extra: extra,
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewLockRequest creates a new lock request.
// A release of 0 means the keys are released when the connection closes.
func NewLockRequest(wait, release time.Duration, keys []string) serializer.Value {
	releaseValue := serializer.Bool(false)
	if release > 0 {
		releaseValue = DurationValue(release)
	}
	return serializer.List(
		serializer.Int(APIVersion),
		serializer.String(string(MsgTLock)),
		DurationValue(wait),
		releaseValue,
		serializer.Strings(keys...),
	)
}

// NewPingRequest creates a new ping request
func NewPingRequest() serializer.Value {
	return serializer.List(
		serializer.Int(APIVersion),
		serializer.String(string(MsgTPing)),
	)
}

// NewOkResponse creates a new success response
func NewOkResponse() serializer.Value {
	return serializer.List(serializer.String(StatusOk))
}

// NewErrorResponse creates a new error response
func NewErrorResponse(code ErrorCode, msg string, extra ...serializer.Value) serializer.Value {
	items := make([]serializer.Value, 0, 3+len(extra))
	items = append(items,
		serializer.String(StatusError),
		serializer.Int(int64(code)),
		serializer.String(msg),
	)
	items = append(items, extra...)
	return serializer.List(items...)
}

// NewAcquireTimeoutResponse creates the response for a lock request whose keys were
// still held when its wait timeout expired
func NewAcquireTimeoutResponse(held []string) serializer.Value {
	return NewErrorResponse(ErrCAcquireTimeout, "Acquire timeout", serializer.Strings(held...))
}

// --------------------------------------------------------------------------
// Response Parsing
// --------------------------------------------------------------------------

// Response is a typed view of a response message
type Response struct {
	Status string             // StatusOk or StatusError
	Code   ErrorCode          // Only set for error responses
	Msg    string             // Only set for error responses
	Extra  []serializer.Value // Trailing elements after the message
}

// IsOk reports whether the response is a success response
func (r *Response) IsOk() bool {
	return r.Status == StatusOk
}

// HeldKeys returns the keys listed in an acquire timeout response
func (r *Response) HeldKeys() []string {
	if r.Code != ErrCAcquireTimeout || len(r.Extra) == 0 {
		return nil
	}
	var keys []string
	for _, item := range r.Extra[0].Items() {
		if key, ok := item.AsString(); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// String returns a formatted representation of the response
func (r *Response) String() string {
	if r.IsOk() {
		return StatusOk
	}
	if len(r.Extra) > 0 {
		return fmt.Sprintf("%s %d %q %v", r.Status, int64(r.Code), r.Msg, serializer.List(r.Extra...))
	}
	return fmt.Sprintf("%s %d %q", r.Status, int64(r.Code), r.Msg)
}

// ParseResponse converts a decoded message into a Response
func ParseResponse(v serializer.Value) (*Response, error) {
	status, ok := v.Index(0).AsString()
	if !ok {
		return nil, fmt.Errorf("invalid response %s: first element must be a status string", v)
	}

	switch status {
	case StatusOk:
		return &Response{Status: status, Extra: v.Items()[1:]}, nil
	case StatusError:
		code, ok := v.Index(1).AsInt()
		if !ok {
			return nil, fmt.Errorf("invalid error response %s: missing error code", v)
		}
		msg, _ := v.Index(2).AsString()
		resp := &Response{Status: status, Code: ErrorCode(code), Msg: msg}
		if v.Len() > 3 {
			resp.Extra = v.Items()[3:]
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("invalid response %s: unknown status %q", v, status)
	}
}

// --------------------------------------------------------------------------
// Duration Helpers
// --------------------------------------------------------------------------

// DurationValue encodes a duration as seconds, as an integer when it is a
// whole number of seconds and as a float otherwise
func DurationValue(d time.Duration) serializer.Value {
	if d%time.Second == 0 {
		return serializer.Int(int64(d / time.Second))
	}
	return serializer.Float(d.Seconds())
}

// ValueDuration decodes a number of seconds into a duration.
// Values beyond the range of time.Duration (including infinity) are clamped to
// the largest duration, non-zero values closer to zero than 1ns keep their sign
// as +-1ns. It fails for non-numeric and NaN values.
func ValueDuration(v serializer.Value) (time.Duration, bool) {
	seconds, ok := v.AsNumber()
	if !ok || math.IsNaN(seconds) {
		return 0, false
	}

	limit := math.MaxInt64 / float64(time.Second)
	switch {
	case seconds >= limit:
		return math.MaxInt64, true
	case seconds <= -limit:
		return math.MinInt64, true
	}

	d := time.Duration(seconds * float64(time.Second))
	if d == 0 && seconds > 0 {
		d = time.Nanosecond
	} else if d == 0 && seconds < 0 {
		d = -time.Nanosecond
	}
	return d, true
}
