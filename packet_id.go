package mqttv3

import (
	"errors"
	"math/bits"
	"sync"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDNotFound  = errors.New("packet ID not found")
)

// PacketIDManager hands out packet identifiers in the range 1-65535.
//
// Allocation walks forward from the last identifier handed out, wrapping past
// 65535 back to 1, and skips identifiers that are still outstanding. Outstanding
// identifiers are tracked in a bitmap.
type PacketIDManager struct {
	mu    sync.Mutex
	inUse [1024]uint64
	count int
	last  uint16
}

func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{}
}

func (m *PacketIDManager) test(id uint16) bool {
	return m.inUse[id>>6]&(1<<(id&63)) != 0
}

func (m *PacketIDManager) flip(id uint16) {
	m.inUse[id>>6] ^= 1 << (id & 63)
}

// Allocate reserves the next free identifier.
func (m *PacketIDManager) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == maxUint16 {
		return 0, ErrPacketIDExhausted
	}

	id := m.last
	for {
		id++
		if id == 0 {
			id = 1
		}

		word := m.inUse[id>>6] >> (id & 63)
		if word == ^uint64(0)>>(id&63) {
			// rest of this word is taken; jump to the next one
			id |= 63
			continue
		}
		id += uint16(bits.TrailingZeros64(^word))
		break
	}

	m.flip(id)
	m.count++
	m.last = id
	return id, nil
}

// Release returns id to the pool.
func (m *PacketIDManager) Release(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 || !m.test(id) {
		return ErrPacketIDNotFound
	}
	m.flip(id)
	m.count--
	return nil
}

// IsUsed reports whether id is outstanding.
func (m *PacketIDManager) IsUsed(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return id != 0 && m.test(id)
}

// InUse is the number of outstanding identifiers.
func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Reset releases every identifier. The allocation cursor is kept so a fresh
// connection does not immediately reuse the identifiers of the old one.
func (m *PacketIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.inUse[:])
	m.count = 0
}
