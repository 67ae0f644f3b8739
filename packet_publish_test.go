package mqttv3

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishPacketWireFormat(t *testing.T) {
	tests := []struct {
		name string
		pkt  PublishPacket
		wire []byte
	}{
		{
			name: "qos 0 has no packet id",
			pkt:  PublishPacket{Topic: "a/b", Payload: []byte("hi")},
			wire: []byte{0x30, 0x07, 0x00, 0x03, 'a', '/', 'b', 'h', 'i'},
		},
		{
			name: "qos 1",
			pkt:  PublishPacket{Topic: "a/b", Payload: []byte("hi"), QoS: QoS1, PacketID: 10},
			wire: []byte{0x32, 0x09, 0x00, 0x03, 'a', '/', 'b', 0x00, 0x0A, 'h', 'i'},
		},
		{
			name: "qos 2 retained duplicate",
			pkt:  PublishPacket{Topic: "t", QoS: QoS2, Retain: true, DUP: true, PacketID: 0x0102},
			wire: []byte{0x3D, 0x05, 0x00, 0x01, 't', 0x01, 0x02},
		},
		{
			name: "retained qos 0",
			pkt:  PublishPacket{Topic: "t", Payload: []byte{0x00}, Retain: true},
			wire: []byte{0x31, 0x04, 0x00, 0x01, 't', 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded PublishPacket
			wire := encodeDecode(t, &tt.pkt, &decoded)
			assert.Equal(t, tt.wire, wire)

			want := tt.pkt
			if want.Payload == nil {
				want.Payload = []byte{}
			}
			assert.Equal(t, want, decoded)
		})
	}
}

func TestPublishPacketLargePayload(t *testing.T) {
	pkt := &PublishPacket{Topic: "big", Payload: bytes.Repeat([]byte{0x5A}, 70000), QoS: QoS1, PacketID: 1}

	var decoded PublishPacket
	wire := encodeDecode(t, pkt, &decoded)

	// 70000 + 2 + 3 + 2 = 70007 takes three remaining length bytes
	assert.Equal(t, []byte{0x32, 0xF7, 0xA2, 0x04}, wire[:4])
	assert.Equal(t, pkt.Payload, decoded.Payload)
}

func TestPublishPacketValidate(t *testing.T) {
	tests := []struct {
		name    string
		pkt     PublishPacket
		wantErr error
	}{
		{"valid qos 0", PublishPacket{Topic: "a"}, nil},
		{"valid qos 1", PublishPacket{Topic: "a", QoS: QoS1, PacketID: 1}, nil},
		{"empty topic", PublishPacket{}, ErrTopicNameEmpty},
		{"invalid qos", PublishPacket{Topic: "a", QoS: 3, PacketID: 1}, ErrInvalidQoS},
		{"missing id", PublishPacket{Topic: "a", QoS: QoS2}, ErrPacketIDRequired},
		{"dup on qos 0", PublishPacket{Topic: "a", DUP: true}, ErrInvalidPacketFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pkt.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPublishPacketDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		header  FixedHeader
		body    []byte
		wantErr error
	}{
		{
			name:    "qos 3",
			header:  FixedHeader{PacketType: PacketPUBLISH, Flags: 0x06, RemainingLength: 3},
			body:    []byte{0x00, 0x01, 't'},
			wantErr: ErrInvalidPacketFlags,
		},
		{
			name:    "zero packet id",
			header:  FixedHeader{PacketType: PacketPUBLISH, Flags: 0x02, RemainingLength: 5},
			body:    []byte{0x00, 0x01, 't', 0x00, 0x00},
			wantErr: ErrPacketIDRequired,
		},
		{
			name:    "topic overruns remaining length",
			header:  FixedHeader{PacketType: PacketPUBLISH, RemainingLength: 3},
			body:    []byte{0x00, 0x05, 'a', 'b', 'c', 'd', 'e'},
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "wrong type",
			header:  FixedHeader{PacketType: PacketPUBACK},
			wantErr: ErrInvalidPacketType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pkt PublishPacket
			_, err := pkt.Decode(bytes.NewReader(tt.body), tt.header)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func BenchmarkPublishPacketEncode(b *testing.B) {
	pkt := &PublishPacket{Topic: "sensors/kitchen/temperature", Payload: make([]byte, 256), QoS: QoS1, PacketID: 1}
	var buf bytes.Buffer

	b.ReportAllocs()
	for b.Loop() {
		buf.Reset()
		_, _ = pkt.Encode(&buf)
	}
}

func FuzzPublishPacketDecode(f *testing.F) {
	f.Add(byte(0x00), []byte{0x00, 0x01, 't', 'x'})
	f.Add(byte(0x02), []byte{0x00, 0x01, 't', 0x00, 0x01})
	f.Add(byte(0x0D), []byte{0x00, 0x01, 't', 0x01, 0x02})

	f.Fuzz(func(_ *testing.T, flags byte, body []byte) {
		var pkt PublishPacket
		header := FixedHeader{PacketType: PacketPUBLISH, Flags: flags & 0x0F, RemainingLength: uint32(len(body))}
		_, _ = pkt.Decode(bytes.NewReader(body), header)
	})
}
