package mqttv3

import (
	"errors"
	"io"
)

// PacketType is the four bit control packet type carried in the first header byte.
type PacketType byte

// Control packet types defined by MQTT 3.1.1. Values 0 and 15 are reserved.
const (
	PacketCONNECT PacketType = iota + 1
	PacketCONNACK
	PacketPUBLISH
	PacketPUBACK
	PacketPUBREC
	PacketPUBREL
	PacketPUBCOMP
	PacketSUBSCRIBE
	PacketSUBACK
	PacketUNSUBSCRIBE
	PacketUNSUBACK
	PacketPINGREQ
	PacketPINGRESP
	PacketDISCONNECT
)

var packetTypeNames = [...]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
}

func (p PacketType) String() string {
	if !p.Valid() {
		return "UNKNOWN"
	}
	return packetTypeNames[p]
}

// Valid reports whether p names one of the fourteen defined packet types.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketDISCONNECT
}

var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// MaxRemainingLength is the largest body length a four byte remaining length can express.
const MaxRemainingLength = maxVarint

// PUBLISH flag bits.
const (
	flagRetain  byte = 0x01
	flagQoSMask byte = 0x06
	flagDUP     byte = 0x08
)

// requiredFlags is the fixed low nibble of every type other than PUBLISH.
var requiredFlags = [...]byte{
	PacketPUBREL:      0x02,
	PacketSUBSCRIBE:   0x02,
	PacketUNSUBSCRIBE: 0x02,
	PacketDISCONNECT:  0x00,
}

// FixedHeader is the type byte plus remaining length that prefixes every packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the header in a single Write call and returns the bytes written.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}
	if h.RemainingLength > MaxRemainingLength {
		return 0, ErrPacketTooLarge
	}

	var buf [1 + maxVarintBytes]byte
	out := append(buf[:0], byte(h.PacketType)<<4|h.Flags&0x0F)
	out = appendVarint(out, h.RemainingLength)
	return w.Write(out)
}

// Decode reads a header from r. The type is checked before the remaining
// length is read; flags are left for ValidateFlags.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	var first [1]byte
	if n, err := io.ReadFull(r, first[:]); err != nil {
		return n, err
	}

	h.PacketType = PacketType(first[0] >> 4)
	h.Flags = first[0] & 0x0F
	if !h.PacketType.Valid() {
		return 1, ErrInvalidPacketType
	}

	length, n, err := decodeVarint(r)
	if err != nil {
		return 1 + n, err
	}
	h.RemainingLength = length
	return 1 + n, nil
}

// Size is the number of bytes Encode would write.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags checks the low nibble against the rules for the packet type.
// PUBLISH rejects QoS 3 and a DUP bit at QoS 0; every other type must carry
// its fixed value.
func (h *FixedHeader) ValidateFlags() error {
	switch {
	case !h.PacketType.Valid():
		return ErrInvalidPacketType
	case h.PacketType != PacketPUBLISH:
		if h.Flags != requiredFlags[h.PacketType] {
			return ErrInvalidPacketFlags
		}
	case h.QoS() > QoS2, h.QoS() == QoS0 && h.DUP():
		return ErrInvalidPacketFlags
	}
	return nil
}

func (h *FixedHeader) setFlag(bit byte, on bool) {
	if on {
		h.Flags |= bit
		return
	}
	h.Flags &^= bit
}

// DUP reports the PUBLISH redelivery bit.
func (h *FixedHeader) DUP() bool { return h.Flags&flagDUP != 0 }

// SetDUP sets or clears the PUBLISH redelivery bit.
func (h *FixedHeader) SetDUP(dup bool) { h.setFlag(flagDUP, dup) }

// QoS extracts the two PUBLISH QoS bits. The result may be 3 on malformed input.
func (h *FixedHeader) QoS() QoS { return QoS(h.Flags & flagQoSMask >> 1) }

// SetQoS replaces the PUBLISH QoS bits, keeping the others.
func (h *FixedHeader) SetQoS(qos QoS) {
	h.Flags = h.Flags&^flagQoSMask | byte(qos)<<1&flagQoSMask
}

// Retain reports the PUBLISH retain bit.
func (h *FixedHeader) Retain() bool { return h.Flags&flagRetain != 0 }

// SetRetain sets or clears the PUBLISH retain bit.
func (h *FixedHeader) SetRetain(retain bool) { h.setFlag(flagRetain, retain) }
