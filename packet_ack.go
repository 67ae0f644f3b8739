package mqttv3

import (
	"encoding/binary"
	"io"
)

// Acknowledgment packets carry a two byte packet identifier and nothing else.
// PUBREL alone has the fixed flags 0x02.

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket struct{ PacketID uint16 }

// PubrecPacket is the first reply in the QoS 2 exchange.
type PubrecPacket struct{ PacketID uint16 }

// PubrelPacket answers a PUBREC and releases the stored message.
type PubrelPacket struct{ PacketID uint16 }

// PubcompPacket completes the QoS 2 exchange.
type PubcompPacket struct{ PacketID uint16 }

// UnsubackPacket confirms an UNSUBSCRIBE.
type UnsubackPacket struct{ PacketID uint16 }

func (p *PubackPacket) Type() PacketType   { return PacketPUBACK }
func (p *PubrecPacket) Type() PacketType   { return PacketPUBREC }
func (p *PubrelPacket) Type() PacketType   { return PacketPUBREL }
func (p *PubcompPacket) Type() PacketType  { return PacketPUBCOMP }
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *PubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubrecPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubrelPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubcompPacket) GetPacketID() uint16  { return p.PacketID }
func (p *UnsubackPacket) GetPacketID() uint16 { return p.PacketID }

func (p *PubackPacket) SetPacketID(id uint16)   { p.PacketID = id }
func (p *PubrecPacket) SetPacketID(id uint16)   { p.PacketID = id }
func (p *PubrelPacket) SetPacketID(id uint16)   { p.PacketID = id }
func (p *PubcompPacket) SetPacketID(id uint16)  { p.PacketID = id }
func (p *UnsubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PubackPacket) Validate() error   { return validatePacketID(p.PacketID) }
func (p *PubrecPacket) Validate() error   { return validatePacketID(p.PacketID) }
func (p *PubrelPacket) Validate() error   { return validatePacketID(p.PacketID) }
func (p *PubcompPacket) Validate() error  { return validatePacketID(p.PacketID) }
func (p *UnsubackPacket) Validate() error { return validatePacketID(p.PacketID) }

func (p *PubackPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBACK, p.PacketID)
}

func (p *PubrecPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREC, p.PacketID)
}

func (p *PubrelPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREL, p.PacketID)
}

func (p *PubcompPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBCOMP, p.PacketID)
}

func (p *PubackPacket) Decode(r io.Reader, header FixedHeader) (n int, err error) {
	p.PacketID, n, err = decodeAck(r, header, PacketPUBACK)
	return n, err
}

func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader) (n int, err error) {
	p.PacketID, n, err = decodeAck(r, header, PacketPUBREC)
	return n, err
}

func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader) (n int, err error) {
	p.PacketID, n, err = decodeAck(r, header, PacketPUBREL)
	return n, err
}

func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader) (n int, err error) {
	p.PacketID, n, err = decodeAck(r, header, PacketPUBCOMP)
	return n, err
}

func (p *UnsubackPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketUNSUBACK, p.PacketID)
}

func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (n int, err error) {
	p.PacketID, n, err = decodeAck(r, header, PacketUNSUBACK)
	return n, err
}

func validatePacketID(id uint16) error {
	if id == 0 {
		return ErrInvalidPacketID
	}
	return nil
}

// encodeAck writes a packet whose body is only a packet identifier.
func encodeAck(w io.Writer, packetType PacketType, packetID uint16) (int, error) {
	if err := validatePacketID(packetID); err != nil {
		return 0, err
	}
	return encodeWithHeader(w, packetType, requiredFlags[packetType], binary.BigEndian.AppendUint16(nil, packetID))
}

func decodeAck(r io.Reader, header FixedHeader, packetType PacketType) (uint16, int, error) {
	if err := checkHeader(header, packetType); err != nil {
		return 0, 0, err
	}
	if header.RemainingLength != 2 {
		return 0, 0, ErrProtocolViolation
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return 0, n, err
	}
	return id, n, validatePacketID(id)
}
