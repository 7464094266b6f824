// Package osc encodes and decodes Open Sound Control messages per the
// OSC 1.0 byte encoding (address pattern string, type tag string,
// argument bytes). Only the argument types VRChat actually exchanges are
// implemented: int32, float32, string and the data-less booleans.
package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrBundle is returned by Decode for "#bundle" packets. Bundles are
// recognized so callers can skip them, but their contents are not parsed.
var ErrBundle = errors.New("osc: bundle packet")

const bundleTag = "#bundle"

// Message is a single OSC message: an address pattern starting with "/"
// and an ordered list of typed arguments. Decoded messages are never
// mutated after Decode returns.
type Message struct {
	Addr string
	Args []Arg
}

// Arg is one typed OSC argument.
type Arg interface {
	// Tag returns the single type tag character for the argument.
	Tag() byte
	// append writes the argument's wire bytes onto b.
	append(b []byte) []byte
	// consume reads the argument from b, returning the remainder.
	consume(b []byte) ([]byte, error)
}

// Encode serializes the message. It fails only when the message itself is
// malformed (empty address or one not starting with "/"); for well-formed
// input it cannot fail.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Addr) == 0 || m.Addr[0] != '/' {
		return nil, fmt.Errorf("osc: invalid address pattern %q", m.Addr)
	}

	b := appendPaddedString(nil, m.Addr)

	tags := make([]byte, 0, len(m.Args)+1)
	tags = append(tags, ',')
	for _, a := range m.Args {
		tags = append(tags, a.Tag())
	}
	b = appendPaddedString(b, string(tags))

	for _, a := range m.Args {
		b = a.append(b)
	}
	return b, nil
}

// Decode parses one datagram. Malformed packets yield a descriptive error;
// bundle packets yield ErrBundle.
func Decode(buf []byte) (*Message, error) {
	addr, rest, err := consumePaddedString(buf)
	if err != nil {
		return nil, fmt.Errorf("osc: reading address pattern: %w", err)
	}
	if addr == bundleTag {
		return nil, ErrBundle
	}
	if len(addr) == 0 || addr[0] != '/' {
		return nil, fmt.Errorf("osc: invalid address pattern %q", addr)
	}

	tags, rest, err := consumePaddedString(rest)
	if err != nil {
		return nil, fmt.Errorf("osc: reading type tags: %w", err)
	}
	if len(tags) == 0 || tags[0] != ',' {
		return nil, fmt.Errorf("osc: invalid type tag string %q", tags)
	}

	args := make([]Arg, 0, len(tags)-1)
	for i := 1; i < len(tags); i++ {
		a, err := newArg(tags[i])
		if err != nil {
			return nil, err
		}
		rest, err = a.consume(rest)
		if err != nil {
			return nil, fmt.Errorf("osc: reading argument %d (%c): %w", i-1, tags[i], err)
		}
		args = append(args, a)
	}

	return &Message{Addr: addr, Args: args}, nil
}

func newArg(tag byte) (Arg, error) {
	switch tag {
	case 'i':
		return new(Int32), nil
	case 'f':
		return new(Float32), nil
	case 's':
		return new(String), nil
	case 'T':
		return Bool(true), nil
	case 'F':
		return Bool(false), nil
	default:
		return nil, fmt.Errorf("osc: unknown type tag %c", tag)
	}
}

// Bool returns the i-th argument as a boolean, reporting whether the
// argument exists and is a boolean.
func (m *Message) Bool(i int) (value, ok bool) {
	if i < 0 || i >= len(m.Args) {
		return false, false
	}
	b, ok := m.Args[i].(Bool)
	return bool(b), ok
}

// StringArg returns the i-th argument as a string, reporting whether the
// argument exists and is a string.
func (m *Message) StringArg(i int) (value string, ok bool) {
	if i < 0 || i >= len(m.Args) {
		return "", false
	}
	s, ok := m.Args[i].(*String)
	if !ok {
		return "", false
	}
	return string(*s), true
}

// Int32 is the OSC int32, a 32-bit big-endian two's complement integer.
type Int32 int32

func (Int32) Tag() byte { return 'i' }

func (i Int32) append(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(i))
}

func (i *Int32) consume(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("want int32, have %d bytes", len(b))
	}
	*i = Int32(binary.BigEndian.Uint32(b))
	return b[4:], nil
}

func (i Int32) String() string { return fmt.Sprintf("Int32(%d)", int32(i)) }

// Float32 is the OSC float32, a 32-bit big-endian IEEE 754 number.
type Float32 float32

func (Float32) Tag() byte { return 'f' }

func (f Float32) append(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(float32(f)))
}

func (f *Float32) consume(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("want float32, have %d bytes", len(b))
	}
	*f = Float32(math.Float32frombits(binary.BigEndian.Uint32(b)))
	return b[4:], nil
}

func (f Float32) String() string { return fmt.Sprintf("Float32(%g)", float32(f)) }

// String is an OSC string: null-terminated on the wire and zero-padded to
// a four byte boundary.
type String string

func (String) Tag() byte { return 's' }

func (s String) append(b []byte) []byte {
	return appendPaddedString(b, string(s))
}

func (s *String) consume(b []byte) ([]byte, error) {
	v, rest, err := consumePaddedString(b)
	if err != nil {
		return nil, err
	}
	*s = String(v)
	return rest, nil
}

func (s String) String() string { return fmt.Sprintf("String(%q)", string(s)) }

// Bool is an OSC 1.1 boolean. It carries no wire bytes; the value lives
// entirely in the type tag (T or F).
type Bool bool

func (v Bool) Tag() byte {
	if v {
		return 'T'
	}
	return 'F'
}

func (Bool) append(b []byte) []byte { return b }

func (Bool) consume(b []byte) ([]byte, error) { return b, nil }

func (v Bool) String() string { return fmt.Sprintf("Bool(%t)", bool(v)) }

// appendPaddedString writes s, its null terminator and zero padding so the
// total written length is a multiple of four.
func appendPaddedString(b []byte, s string) []byte {
	b = append(b, s...)
	b = append(b, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func consumePaddedString(b []byte) (string, []byte, error) {
	end := bytes.IndexByte(b, 0)
	if end < 0 {
		return "", nil, fmt.Errorf("unterminated string %q", b)
	}
	s := string(b[:end])
	// The terminator plus padding always round the consumed length up to
	// the next multiple of four.
	next := end + 4 - end%4
	if next > len(b) {
		next = len(b)
	}
	return s, b[next:], nil
}

// AsString boxes a string as an OSC argument.
func AsString(s string) *String {
	v := String(s)
	return &v
}

// AsInt32 boxes an int as an OSC argument.
func AsInt32(i int32) *Int32 {
	v := Int32(i)
	return &v
}
