package mqttv3

import (
	"errors"
	"io"
)

var ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")

const connackSessionPresent = 0x01

// ConnackPacket is the broker's answer to CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var ack byte
	if p.SessionPresent {
		ack = connackSessionPresent
	}
	return encodeWithHeader(w, PacketCONNACK, 0x00, []byte{ack, byte(p.ReturnCode)})
}

// Decode reads the acknowledge flags and return code. Unknown return codes
// are kept; ConnectReturnCode.Err reports them as refusals.
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(header, PacketCONNACK); err != nil {
		return 0, err
	}
	if header.RemainingLength != 2 {
		return 0, ErrProtocolViolation
	}

	var body [2]byte
	if n, err := io.ReadFull(r, body[:]); err != nil {
		return n, err
	}
	if body[0]&^connackSessionPresent != 0 {
		return 2, ErrInvalidConnackFlags
	}

	p.SessionPresent = body[0] == connackSessionPresent
	p.ReturnCode = ConnectReturnCode(body[1])
	return 2, nil
}

// Validate rejects a session present flag on a refused connection.
func (p *ConnackPacket) Validate() error {
	if p.SessionPresent && p.ReturnCode != ConnectAccepted {
		return ErrInvalidConnackFlags
	}
	return nil
}
