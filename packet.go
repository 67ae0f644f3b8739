package mqttv3

import (
	"bytes"
	"errors"
	"io"
)

// Packet is implemented by every control packet.
//
// Decode receives the already parsed fixed header and reads exactly
// header.RemainingLength bytes of body from r.
type Packet interface {
	Type() PacketType
	Encode(w io.Writer) (int, error)
	Decode(r io.Reader, header FixedHeader) (int, error)
	Validate() error
}

// PacketWithID is implemented by packets that carry a packet identifier.
type PacketWithID interface {
	Packet
	GetPacketID() uint16
	SetPacketID(id uint16)
}

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrInvalidPacketID   = errors.New("packet identifier must be non-zero")
)

// Message is an application message as seen by publishers, interceptors
// and handlers.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool

	// Duplicate and PacketID are only meaningful on received messages.
	Duplicate bool
	PacketID  uint16
}

// Clone returns a copy that shares no memory with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = bytes.Clone(m.Payload)
	return &c
}

// checkHeader rejects a header of the wrong type or, for anything but
// PUBLISH, with flags other than the fixed value.
func checkHeader(header FixedHeader, want PacketType) error {
	if header.PacketType != want {
		return ErrInvalidPacketType
	}
	if want != PacketPUBLISH && header.Flags != requiredFlags[want] {
		return ErrInvalidPacketFlags
	}
	return nil
}

// encodeWithHeader writes the fixed header for body and then body.
func encodeWithHeader(w io.Writer, packetType PacketType, flags byte, body []byte) (int, error) {
	if len(body) > MaxRemainingLength {
		return 0, ErrPacketTooLarge
	}

	header := FixedHeader{PacketType: packetType, Flags: flags, RemainingLength: uint32(len(body))}
	n, err := header.Encode(w)
	if err != nil || len(body) == 0 {
		return n, err
	}

	m, err := w.Write(body)
	return n + m, err
}
