package mqttv3

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong      = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
	maxVarintBytes    = 4
)

// Bodies are built with the append helpers and parsed with the decode
// helpers. Every decode helper also returns the number of bytes it consumed.

func decodeUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), n, nil
}

// checkString reports why s cannot travel as an MQTT UTF-8 string.
func checkString(s string) error {
	switch {
	case len(s) > maxUint16:
		return ErrStringTooLong
	case !utf8.ValidString(s):
		return ErrInvalidUTF8
	case strings.IndexByte(s, 0) >= 0:
		return ErrStringContainsNull
	}
	return nil
}

// appendString appends s behind its two byte length.
func appendString(dst []byte, s string) ([]byte, error) {
	if err := checkString(s); err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

// appendBinary appends data behind its two byte length. Will messages and
// passwords use this form.
func appendBinary(dst, data []byte) ([]byte, error) {
	if len(data) > maxUint16 {
		return dst, ErrBinaryTooLong
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...), nil
}

// bodyBuilder appends length prefixed fields and keeps the first error.
type bodyBuilder struct {
	buf []byte
	err error
}

func (b *bodyBuilder) string(s string) {
	if b.err == nil {
		b.buf, b.err = appendString(b.buf, s)
	}
}

func (b *bodyBuilder) binary(data []byte) {
	if b.err == nil {
		b.buf, b.err = appendBinary(b.buf, data)
	}
}

// decodeBinary reads a two byte length and that many bytes. An empty field
// yields a nil slice.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	length, n, err := decodeUint16(r)
	if err != nil || length == 0 {
		return nil, n, err
	}

	buf := make([]byte, length)
	m, err := io.ReadFull(r, buf)
	return buf, n + m, err
}

// decodeString reads a length prefixed UTF-8 string.
func decodeString(r io.Reader) (string, int, error) {
	buf, n, err := decodeBinary(r)
	if err != nil {
		return "", n, err
	}

	s := string(buf)
	if err := checkString(s); err != nil {
		return "", n, err
	}
	return s, n, nil
}

// appendVarint appends value in variable byte integer form: seven bits per
// byte, least significant group first, high bit set on all but the last.
func appendVarint(dst []byte, value uint32) []byte {
	for value >= varintContinueBit {
		dst = append(dst, byte(value&varintValueMask)|varintContinueBit)
		value >>= 7
	}
	return append(dst, byte(value))
}

// decodeVarint reads a variable byte integer one byte at a time, so nothing
// past the integer is consumed.
func decodeVarint(r io.Reader) (uint32, int, error) {
	var buf [maxVarintBytes]byte

	for i := range buf {
		if _, err := io.ReadFull(r, buf[i:i+1]); err != nil {
			return 0, i, err
		}

		value, size, ok, err := peekVarint(buf[:i+1])
		if err != nil {
			return 0, size, err
		}
		if ok {
			return value, size, nil
		}
	}

	return 0, maxVarintBytes, ErrVarintMalformed
}

// peekVarint decodes a variable byte integer from the start of buf without
// consuming it. ok is false when buf ends before the last length byte.
func peekVarint(buf []byte) (value uint32, size int, ok bool, err error) {
	var shift uint

	for i, b := range buf {
		value |= uint32(b&varintValueMask) << shift

		if b&varintContinueBit == 0 {
			return value, i + 1, true, nil
		}
		if i+1 == maxVarintBytes {
			return 0, i + 1, false, ErrVarintMalformed
		}

		shift += 7
	}

	return 0, len(buf), false, nil
}

// varintSize returns the number of bytes appendVarint adds for value.
func varintSize(value uint32) int {
	size := 1
	for value >= varintContinueBit {
		value >>= 7
		size++
	}
	return size
}
