package mqttv3

import (
	"bytes"
	"sync"
)

// maxPooledBuffer is the largest capacity returned to a pool.
const maxPooledBuffer = 64 << 10

var (
	decodeReaders = sync.Pool{New: func() any { return new(bytes.Reader) }}
	encodeBuffers = sync.Pool{New: func() any { return new(bytes.Buffer) }}
	readChunks    sync.Pool
)

func getBytesReader(data []byte) *bytes.Reader {
	r := decodeReaders.Get().(*bytes.Reader)
	r.Reset(data)
	return r
}

func putBytesReader(r *bytes.Reader) {
	if r == nil {
		return
	}
	r.Reset(nil)
	decodeReaders.Put(r)
}

func getBytesBuffer() *bytes.Buffer {
	b := encodeBuffers.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBytesBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	encodeBuffers.Put(b)
}

// getReadChunk returns a slice of exactly size bytes. Pooled chunks that
// are too small are discarded.
func getReadChunk(size int) []byte {
	if p, ok := readChunks.Get().(*[]byte); ok && cap(*p) >= size {
		return (*p)[:size]
	}
	return make([]byte, size)
}

func putReadChunk(chunk []byte) {
	if c := cap(chunk); c > 0 && c <= maxPooledBuffer {
		readChunks.Put(&chunk)
	}
}
