package mqttv3

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	protocolName  = "MQTT"
	protocolLevel = 4
)

// Connect flag bits.
const (
	connectFlagReserved     = 0x01
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillQoSShift = 3
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

var (
	ErrInvalidProtocolName  = errors.New("invalid protocol name")
	ErrInvalidProtocolLevel = errors.New("unsupported protocol level")
	ErrInvalidConnectFlags  = errors.New("invalid connect flags")
	ErrClientIDRequired     = errors.New("client ID required with clean session false")
)

// ConnectPacket opens a session. An empty Username is omitted from the
// wire, and Password is only sent together with a Username.
type ConnectPacket struct {
	ClientID     string
	CleanSession bool
	KeepAlive    uint16 // seconds, 0 disables keep alive
	Username     string
	Password     []byte
	Will         *Will
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

// hasPassword reports whether the password is carried on the wire.
// The password flag is only valid when the username flag is set.
func (p *ConnectPacket) hasPassword() bool {
	return p.Username != "" && p.Password != nil
}

// ConnectFlags returns the connect flags byte.
//
//	bit 7 username, bit 6 password, bit 5 will retain,
//	bits 4-3 will QoS, bit 2 will flag, bit 1 clean session, bit 0 reserved.
func (p *ConnectPacket) ConnectFlags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}

	if p.Will != nil {
		flags |= connectFlagWillFlag
		flags |= (byte(p.Will.QoS) & 0x03) << connectFlagWillQoSShift
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}

	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	if p.hasPassword() {
		flags |= connectFlagPasswordFlag
	}

	return flags
}

func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var b bodyBuilder
	b.string(protocolName)
	b.buf = append(b.buf, protocolLevel, p.ConnectFlags())
	b.buf = binary.BigEndian.AppendUint16(b.buf, p.KeepAlive)

	b.string(p.ClientID)
	if p.Will != nil {
		b.string(p.Will.Topic)
		b.binary(p.Will.Message)
	}
	if p.Username != "" {
		b.string(p.Username)
	}
	if p.hasPassword() {
		b.binary(p.Password)
	}
	if b.err != nil {
		return 0, b.err
	}

	return encodeWithHeader(w, PacketCONNECT, 0x00, b.buf)
}

// Decode parses a CONNECT body. Clients never receive one; brokers and
// test fixtures do.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(header, PacketCONNECT); err != nil {
		return 0, err
	}

	name, n, err := decodeString(r)
	if err != nil {
		return n, err
	}
	if name != protocolName {
		return n, ErrInvalidProtocolName
	}

	var hdr [2]byte
	n2, err := io.ReadFull(r, hdr[:])
	n += n2
	if err != nil {
		return n, err
	}
	if hdr[0] != protocolLevel {
		return n, ErrInvalidProtocolLevel
	}

	flags := hdr[1]
	if flags&connectFlagReserved != 0 {
		return n, ErrInvalidConnectFlags
	}
	p.CleanSession = flags&connectFlagCleanSession != 0

	keepAlive, n3, err := decodeUint16(r)
	n += n3
	if err != nil {
		return n, err
	}
	p.KeepAlive = keepAlive

	p.ClientID, n3, err = decodeString(r)
	n += n3
	if err != nil {
		return n, err
	}

	willQoS := QoS((flags >> connectFlagWillQoSShift) & 0x03)
	willRetain := flags&connectFlagWillRetain != 0
	if flags&connectFlagWillFlag != 0 {
		will := &Will{QoS: willQoS, Retain: willRetain}
		will.Topic, n3, err = decodeString(r)
		n += n3
		if err != nil {
			return n, err
		}
		will.Message, n3, err = decodeBinary(r)
		n += n3
		if err != nil {
			return n, err
		}
		if will.Message == nil {
			will.Message = []byte{}
		}
		p.Will = will
	} else if willQoS != QoS0 || willRetain {
		return n, ErrInvalidConnectFlags
	}

	usernameFlag := flags&connectFlagUsernameFlag != 0
	passwordFlag := flags&connectFlagPasswordFlag != 0
	if passwordFlag && !usernameFlag {
		return n, ErrInvalidConnectFlags
	}

	if usernameFlag {
		p.Username, n3, err = decodeString(r)
		n += n3
		if err != nil {
			return n, err
		}
	}

	if passwordFlag {
		p.Password, n3, err = decodeBinary(r)
		n += n3
		if err != nil {
			return n, err
		}
		if p.Password == nil {
			p.Password = []byte{}
		}
	}

	return n, nil
}

// Validate requires a client identifier for persistent sessions and a valid
// will when one is set.
func (p *ConnectPacket) Validate() error {
	if p.ClientID == "" && !p.CleanSession {
		return ErrClientIDRequired
	}
	if p.Will != nil {
		return p.Will.Validate()
	}
	return nil
}
