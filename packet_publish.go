package mqttv3

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrTopicNameEmpty   = errors.New("topic name cannot be empty")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
)

// PublishPacket carries an application message in either direction.
// The packet identifier is only on the wire when QoS is above zero.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retain   bool
	DUP      bool
	PacketID uint16
}

func (p *PublishPacket) Type() PacketType      { return PacketPUBLISH }
func (p *PublishPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PublishPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PublishPacket) header() FixedHeader {
	h := FixedHeader{PacketType: PacketPUBLISH}
	h.SetDUP(p.DUP)
	h.SetQoS(p.QoS)
	h.SetRetain(p.Retain)
	return h
}

func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	body, err := appendString(make([]byte, 0, 4+len(p.Topic)+len(p.Payload)), p.Topic)
	if err != nil {
		return 0, err
	}
	if p.QoS > QoS0 {
		body = binary.BigEndian.AppendUint16(body, p.PacketID)
	}
	body = append(body, p.Payload...)

	return encodeWithHeader(w, PacketPUBLISH, p.header().Flags, body)
}

// Decode takes DUP, QoS and retain from the header flags. Everything after
// the topic and packet identifier is payload.
func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(header, PacketPUBLISH); err != nil {
		return 0, err
	}
	if err := header.ValidateFlags(); err != nil {
		return 0, err
	}

	p.DUP, p.QoS, p.Retain = header.DUP(), header.QoS(), header.Retain()

	var (
		n   int
		err error
	)
	if p.Topic, n, err = decodeString(r); err != nil {
		return n, err
	}

	if p.QoS > QoS0 {
		id, m, err := decodeUint16(r)
		n += m
		if err != nil {
			return n, err
		}
		if id == 0 {
			return n, ErrPacketIDRequired
		}
		p.PacketID = id
	}

	if uint32(n) > header.RemainingLength {
		return n, io.ErrUnexpectedEOF
	}

	p.Payload = make([]byte, header.RemainingLength-uint32(n))
	m, err := io.ReadFull(r, p.Payload)
	return n + m, err
}

func (p *PublishPacket) Validate() error {
	switch {
	case p.Topic == "":
		return ErrTopicNameEmpty
	case !p.QoS.Valid():
		return ErrInvalidQoS
	case p.QoS > QoS0 && p.PacketID == 0:
		return ErrPacketIDRequired
	case p.QoS == QoS0 && p.DUP:
		return ErrInvalidPacketFlags
	}
	return nil
}

// ToMessage exposes the packet as a Message sharing its payload.
func (p *PublishPacket) ToMessage() *Message {
	return &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
		PacketID:  p.PacketID,
	}
}

// FromMessage copies the publishable fields of m. The packet identifier is
// left alone.
func (p *PublishPacket) FromMessage(m *Message) {
	p.Topic, p.Payload, p.QoS, p.Retain = m.Topic, m.Payload, m.QoS, m.Retain
}
