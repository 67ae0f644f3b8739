package mqttv3

import "io"

// Header-only packets: the remaining length is always zero and the flags are
// always clear.

// PingreqPacket asks the broker to confirm the connection is alive.
type PingreqPacket struct{}

// PingrespPacket answers a PINGREQ.
type PingrespPacket struct{}

// DisconnectPacket announces a clean client shutdown. The broker discards the
// will message when it receives one.
type DisconnectPacket struct{}

func (p *PingreqPacket) Type() PacketType    { return PacketPINGREQ }
func (p *PingrespPacket) Type() PacketType   { return PacketPINGRESP }
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *PingreqPacket) Validate() error    { return nil }
func (p *PingrespPacket) Validate() error   { return nil }
func (p *DisconnectPacket) Validate() error { return nil }

func (p *PingreqPacket) Encode(w io.Writer) (int, error)    { return encodeEmpty(w, PacketPINGREQ) }
func (p *PingrespPacket) Encode(w io.Writer) (int, error)   { return encodeEmpty(w, PacketPINGRESP) }
func (p *DisconnectPacket) Encode(w io.Writer) (int, error) { return encodeEmpty(w, PacketDISCONNECT) }

func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return 0, decodeEmpty(header, PacketPINGREQ)
}

func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return 0, decodeEmpty(header, PacketPINGRESP)
}

func (p *DisconnectPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return 0, decodeEmpty(header, PacketDISCONNECT)
}

func encodeEmpty(w io.Writer, packetType PacketType) (int, error) {
	return encodeWithHeader(w, packetType, 0x00, nil)
}

func decodeEmpty(header FixedHeader, packetType PacketType) error {
	if err := checkHeader(header, packetType); err != nil {
		return err
	}
	if header.RemainingLength != 0 {
		return ErrProtocolViolation
	}
	return nil
}
