package base

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// Errors returned by ReadMessage. All of them except the timeouts are decode
// errors that are reported to the peer before the connection is closed.
var (
	ErrInvalidLengthPrefix = errors.New("invalid length prefix")
	ErrMessageTooLong      = errors.New("message too long")
	ErrParse               = errors.New("invalid message data")
	ErrInvalidFormat       = errors.New("invalid message data, expected list encoded in tnetstring")
	ErrEmptyMessage        = errors.New("empty message")
	ErrIdleTimeout         = errors.New("idle timeout")
	ErrReadTimeout         = errors.New("read timeout")
)

// codec is the serializer used for all messages
var codec = serializer.NewTNetStringSerializer()

// IsDecodeError reports whether err was caused by data the peer sent
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrInvalidLengthPrefix) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrEmptyMessage)
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// ReadMessage reads one framed message from r, which must read from conn.
//
// The wait for the first byte is bounded by idleTimeout, the rest of the message
// by readTimeout (one deadline for prefix and payload). A timeout of 0 disables the
// deadline. If the peer closes the connection before sending anything io.EOF is
// returned. A message whose length prefix exceeds maxLength is rejected with
// ErrMessageTooLong before its payload is read.
func ReadMessage(conn net.Conn, r *bufio.Reader, idleTimeout, readTimeout time.Duration, maxLength int) (serializer.Value, error) {
	// idle phase
	if err := setReadDeadline(conn, idleTimeout); err != nil {
		return serializer.Value{}, fmt.Errorf("failed to set read deadline: %w", err)
	}
	first, err := r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return serializer.Value{}, io.EOF
		}
		if isTimeout(err) {
			return serializer.Value{}, ErrIdleTimeout
		}
		return serializer.Value{}, fmt.Errorf("read failed: %w", err)
	}

	// read phase
	if err := setReadDeadline(conn, readTimeout); err != nil {
		return serializer.Value{}, fmt.Errorf("failed to set read deadline: %w", err)
	}

	// length prefix: up to MaxPrefixDigits digits followed by ':'
	frame := make([]byte, 0, serializer.MaxPrefixDigits+1)
	b := first
	for b != ':' {
		if b < '0' || b > '9' || len(frame) == serializer.MaxPrefixDigits {
			return serializer.Value{}, ErrInvalidLengthPrefix
		}
		frame = append(frame, b)
		if b, err = r.ReadByte(); err != nil {
			return serializer.Value{}, readError(err)
		}
	}

	length, err := serializer.ParseLength(frame)
	if err != nil {
		return serializer.Value{}, ErrInvalidLengthPrefix
	}
	if length > maxLength {
		return serializer.Value{}, fmt.Errorf("%w: %d bytes, limit is %d", ErrMessageTooLong, length, maxLength)
	}

	// payload and type tag
	prefixLen := len(frame) + 1
	buf := make([]byte, prefixLen+length+1)
	copy(buf, frame)
	buf[len(frame)] = ':'
	if _, err := io.ReadFull(r, buf[prefixLen:]); err != nil {
		return serializer.Value{}, readError(err)
	}

	v, err := codec.Deserialize(buf)
	if err != nil {
		return serializer.Value{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if v.Kind() != serializer.KindList {
		return serializer.Value{}, ErrInvalidFormat
	}
	if v.Len() == 0 {
		return serializer.Value{}, ErrEmptyMessage
	}
	return v, nil
}

// readError converts an error that happened after the first byte of a message
func readError(err error) error {
	if isTimeout(err) {
		return ErrReadTimeout
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read failed: %w", err)
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// SendMessage encodes v and writes it to conn within timeout (0 disables the deadline).
// If the peer is gone (broken pipe, reset, closed connection, timeout) it returns false and no error.
// All other failures are returned as error.
func SendMessage(conn net.Conn, v serializer.Value, timeout time.Duration) (bool, error) {
	data, err := codec.Serialize(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode message: %w", err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		// a closed connection already fails here
		if isPeerGone(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := conn.Write(data); err != nil {
		if isPeerGone(err) {
			return false, nil
		}
		return false, fmt.Errorf("write failed: %w", err)
	}
	return true, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func setReadDeadline(conn net.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		return conn.SetReadDeadline(time.Time{})
	}
	return conn.SetReadDeadline(time.Now().Add(timeout))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isPeerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		isTimeout(err)
}
