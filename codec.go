package mqttv3

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	ErrPacketTooLarge = errors.New("packet exceeds maximum size")

	// ErrIncomplete is returned by DecodePacket when the buffer does not yet
	// hold a complete packet. Nothing is consumed; retry after more bytes arrive.
	ErrIncomplete = errors.New("incomplete packet")

	// ErrMalformedPacket is the base of every MalformedPacketError.
	ErrMalformedPacket = errors.New("malformed packet")
)

// MalformedPacketError reports wire data that can never decode, as opposed
// to data that is merely incomplete. Check with errors.Is(err, ErrMalformedPacket).
type MalformedPacketError struct {
	Type   PacketType
	Reason error
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed %s packet: %v", e.Type, e.Reason)
}

func (e *MalformedPacketError) Unwrap() []error { return []error{ErrMalformedPacket, e.Reason} }

func newMalformed(t PacketType, reason error) *MalformedPacketError {
	return &MalformedPacketError{Type: t, Reason: reason}
}

// Direction selects which packet types a decoder hands back.
type Direction int

const (
	// ServerToClient accepts what a client receives: CONNACK, PUBLISH, the
	// acknowledgment family, SUBACK, UNSUBACK and PINGRESP.
	ServerToClient Direction = iota
	// ClientToServer accepts what a broker receives.
	ClientToServer
)

// Accepts reports whether packets of type t travel in this direction.
func (d Direction) Accepts(t PacketType) bool {
	switch t {
	case PacketPUBLISH, PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP:
		return true
	case PacketCONNACK, PacketSUBACK, PacketUNSUBACK, PacketPINGRESP:
		return d == ServerToClient
	case PacketCONNECT, PacketSUBSCRIBE, PacketUNSUBSCRIBE, PacketPINGREQ, PacketDISCONNECT:
		return d == ClientToServer
	default:
		return false
	}
}

func newPacket(t PacketType) Packet {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}
	case PacketCONNACK:
		return &ConnackPacket{}
	case PacketPUBLISH:
		return &PublishPacket{}
	case PacketPUBACK:
		return &PubackPacket{}
	case PacketPUBREC:
		return &PubrecPacket{}
	case PacketPUBREL:
		return &PubrelPacket{}
	case PacketPUBCOMP:
		return &PubcompPacket{}
	case PacketSUBSCRIBE:
		return &SubscribePacket{}
	case PacketSUBACK:
		return &SubackPacket{}
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}
	case PacketUNSUBACK:
		return &UnsubackPacket{}
	case PacketPINGREQ:
		return &PingreqPacket{}
	case PacketPINGRESP:
		return &PingrespPacket{}
	case PacketDISCONNECT:
		return &DisconnectPacket{}
	default:
		return nil
	}
}

// decodeBody decodes a packet whose fixed header byte and body are fully
// available. Packet types the direction does not accept yield no packet.
func decodeBody(first byte, body []byte, dir Direction) (Packet, error) {
	header := FixedHeader{
		PacketType:      PacketType(first >> 4),
		Flags:           first & 0x0F,
		RemainingLength: uint32(len(body)),
	}

	if !dir.Accepts(header.PacketType) {
		return nil, nil
	}

	if err := header.ValidateFlags(); err != nil {
		return nil, newMalformed(header.PacketType, err)
	}

	packet := newPacket(header.PacketType)
	reader := getBytesReader(body)
	n, err := packet.Decode(reader, header)
	putBytesReader(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, newMalformed(header.PacketType, err)
	}
	if n != len(body) {
		return nil, newMalformed(header.PacketType, ErrProtocolViolation)
	}

	return packet, nil
}

// DecodePacket decodes one packet from the start of buf.
//
// It returns the packet and the number of bytes it occupied. When buf holds
// less than one complete packet it returns ErrIncomplete and consumes nothing.
// Packet types that do not travel in dir, and the reserved types 0 and 15,
// are consumed and reported as a nil packet with a nil error.
// If maxSize is greater than 0, packets whose remaining length exceeds it
// return ErrPacketTooLarge.
func DecodePacket(buf []byte, dir Direction, maxSize uint32) (Packet, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}

	length, size, ok, err := peekVarint(buf[1:])
	if err != nil {
		return nil, 0, newMalformed(PacketType(buf[0]>>4), err)
	}
	if !ok {
		return nil, 0, ErrIncomplete
	}

	if maxSize > 0 && length > maxSize {
		return nil, 0, ErrPacketTooLarge
	}

	total := 1 + size + int(length)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	packet, err := decodeBody(buf[0], buf[1+size:total], dir)
	if err != nil {
		return nil, 0, err
	}

	return packet, total, nil
}

// ReadPacket reads one complete packet from the reader.
// A nil packet with a nil error means a packet was read and skipped because
// it does not travel in dir.
// If maxSize is greater than 0, packets whose remaining length exceeds it
// return ErrPacketTooLarge.
func ReadPacket(r io.Reader, dir Direction, maxSize uint32) (Packet, int, error) {
	var first [1]byte
	n, err := io.ReadFull(r, first[:])
	if err != nil {
		return nil, n, err
	}

	length, n2, err := decodeVarint(r)
	n += n2
	if err != nil {
		if errors.Is(err, ErrVarintMalformed) {
			return nil, n, newMalformed(PacketType(first[0]>>4), err)
		}
		return nil, n, err
	}

	if maxSize > 0 && length > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	body := make([]byte, length)
	if length > 0 {
		rn, err := io.ReadFull(r, body)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := decodeBody(first[0], body, dir)
	return packet, n, err
}

// WritePacket validates and writes a complete MQTT packet to the writer in a
// single Write call.
// If maxSize is greater than 0, packets whose remaining length exceeds it
// return ErrPacketTooLarge, the same bound DecodePacket and ReadPacket apply.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	if err := packet.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	if _, err := packet.Encode(buf); err != nil {
		return 0, err
	}
	if maxSize > 0 {
		frame := buf.Bytes()
		if length, _, _, _ := peekVarint(frame[1:]); length > maxSize {
			return 0, ErrPacketTooLarge
		}
	}

	return w.Write(buf.Bytes())
}

// EncodePacket returns the wire form of a packet.
func EncodePacket(packet Packet) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := WritePacket(&buf, packet, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PacketBuffer accumulates bytes read from a stream and hands back complete
// packets. Bytes stay in a growable arena addressed by a read cursor, so a
// partial packet is never consumed.
type PacketBuffer struct {
	data    []byte
	pos     int
	dir     Direction
	maxSize uint32
}

// NewPacketBuffer creates a buffer that decodes packets travelling in dir.
func NewPacketBuffer(dir Direction, maxSize uint32) *PacketBuffer {
	return &PacketBuffer{dir: dir, maxSize: maxSize}
}

// Write appends p to the buffer. It never returns an error.
func (b *PacketBuffer) Write(p []byte) (int, error) {
	b.compact()
	b.data = append(b.data, p...)
	return len(p), nil
}

// Len returns the number of buffered bytes not yet decoded.
func (b *PacketBuffer) Len() int {
	return len(b.data) - b.pos
}

// Next decodes the next packet. It returns ErrIncomplete when more bytes are
// needed. Packets that do not travel in the buffer's direction are skipped.
// After a MalformedPacketError the stream framing is lost and the buffer
// should be Reset.
func (b *PacketBuffer) Next() (Packet, error) {
	for {
		packet, n, err := DecodePacket(b.data[b.pos:], b.dir, b.maxSize)
		if err != nil {
			return nil, err
		}
		b.pos += n
		if packet != nil {
			return packet, nil
		}
	}
}

// Reset discards all buffered bytes.
func (b *PacketBuffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// compact moves unread bytes to the front once the cursor has passed half
// of the arena.
func (b *PacketBuffer) compact() {
	if b.pos == 0 {
		return
	}
	if b.pos == len(b.data) {
		b.Reset()
		return
	}
	if b.pos >= len(b.data)/2 {
		n := copy(b.data, b.data[b.pos:])
		b.data = b.data[:n]
		b.pos = 0
	}
}
