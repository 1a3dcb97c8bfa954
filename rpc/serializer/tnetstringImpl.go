package serializer

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type tags of the tnetstring format (<len>:<payload><tag>)
const (
	tagString = ','
	tagInt    = '#'
	tagFloat  = '^'
	tagBool   = '!'
	tagNull   = '~'
	tagList   = ']'
	tagDict   = '}'
)

const (
	// MaxPrefixDigits is the maximum number of digits of a length prefix
	MaxPrefixDigits = 10
	// maxDepth limits list nesting to keep the decoder's recursion bounded
	maxDepth = 64
)

// ErrMalformed is returned (wrapped) for any input that is not a valid tnetstring
var ErrMalformed = errors.New("invalid tnetstring")

// NewTNetStringSerializer creates a new serializer using the tnetstring format
func NewTNetStringSerializer() IRPCSerializer {
	return &tnetstringSerializerImpl{}
}

// tnetstringSerializerImpl implements IRPCSerializer using tagged netstrings
type tnetstringSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (t tnetstringSerializerImpl) Serialize(v Value) ([]byte, error) {
	return appendValue(nil, v, 0)
}

func (t tnetstringSerializerImpl) Deserialize(data []byte) (Value, error) {
	v, rest, err := parseValue(data, 0)
	if err != nil {
		return Null(), err
	}
	if len(rest) != 0 {
		return Null(), fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// appendValue appends the encoding of v to buf
func appendValue(buf []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}

	switch v.kind {
	case KindNull:
		return append(buf, "0:~"...), nil
	case KindBool:
		return appendTagged(buf, []byte(strconv.FormatBool(v.b)), tagBool), nil
	case KindInt:
		return appendTagged(buf, strconv.AppendInt(nil, v.i, 10), tagInt), nil
	case KindFloat:
		return appendTagged(buf, []byte(formatFloat(v.f)), tagFloat), nil
	case KindString:
		return appendTagged(buf, []byte(v.s), tagString), nil
	case KindList:
		var payload []byte
		var err error
		for _, item := range v.items {
			if payload, err = appendValue(payload, item, depth+1); err != nil {
				return nil, err
			}
		}
		return appendTagged(buf, payload, tagList), nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind %d", ErrMalformed, v.kind)
	}
}

// appendTagged appends <len>:<payload><tag> to buf
func appendTagged(buf, payload []byte, tag byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, ':')
	buf = append(buf, payload...)
	return append(buf, tag)
}

// formatFloat renders floats so they always read back as floats ("1.0", not "1")
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// parseValue decodes the first value in data and returns the remaining bytes
func parseValue(data []byte, depth int) (Value, []byte, error) {
	if depth > maxDepth {
		return Null(), nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}

	colon := bytes.IndexByte(data, ':')
	if colon <= 0 || colon > MaxPrefixDigits {
		return Null(), nil, fmt.Errorf("%w: missing or oversized length prefix", ErrMalformed)
	}
	length, err := ParseLength(data[:colon])
	if err != nil {
		return Null(), nil, err
	}

	// payload plus the type tag must be present
	end := colon + 1 + length
	if end >= len(data) {
		return Null(), nil, fmt.Errorf("%w: truncated data (want %d bytes, have %d)", ErrMalformed, end+1, len(data))
	}
	payload := data[colon+1 : end]
	rest := data[end+1:]

	switch tag := data[end]; tag {
	case tagString:
		return String(string(payload)), rest, nil

	case tagInt:
		i, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Null(), nil, fmt.Errorf("%w: bad integer %q", ErrMalformed, payload)
		}
		return Int(i), rest, nil

	case tagFloat:
		f, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return Null(), nil, fmt.Errorf("%w: bad float %q", ErrMalformed, payload)
		}
		return Float(f), rest, nil

	case tagBool:
		switch string(payload) {
		case "true":
			return Bool(true), rest, nil
		case "false":
			return Bool(false), rest, nil
		}
		return Null(), nil, fmt.Errorf("%w: bad boolean %q", ErrMalformed, payload)

	case tagNull:
		if len(payload) != 0 {
			return Null(), nil, fmt.Errorf("%w: null with payload", ErrMalformed)
		}
		return Null(), rest, nil

	case tagList:
		items := []Value{}
		for len(payload) > 0 {
			var item Value
			if item, payload, err = parseValue(payload, depth+1); err != nil {
				return Null(), nil, err
			}
			items = append(items, item)
		}
		return List(items...), rest, nil

	case tagDict:
		return Null(), nil, fmt.Errorf("%w: dictionaries are not supported", ErrMalformed)

	default:
		return Null(), nil, fmt.Errorf("%w: unknown type tag %q", ErrMalformed, tag)
	}
}

// ParseLength parses a decimal length prefix. Only ASCII digits are accepted.
func ParseLength(prefix []byte) (int, error) {
	if len(prefix) == 0 || len(prefix) > MaxPrefixDigits {
		return 0, fmt.Errorf("%w: length prefix must have 1 to %d digits", ErrMalformed, MaxPrefixDigits)
	}
	n := 0
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: non-numeric length prefix %q", ErrMalformed, prefix)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
