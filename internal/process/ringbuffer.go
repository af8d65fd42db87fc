package process

import (
	"sync"
	"unicode/utf8"
)

const defaultBufferMaxBytes = 2 * 1024 * 1024

// ringBuffer keeps the most recent output of a process up to maxBytes.
// Oldest chunks are evicted first; a single chunk larger than the limit
// keeps only its tail.
type ringBuffer struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	evicted  int64
	chunks   []OutputChunk
}

func newRingBuffer(maxBytes int64) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultBufferMaxBytes
	}
	return &ringBuffer{maxBytes: maxBytes}
}

func (b *ringBuffer) append(chunk OutputChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if over := len(chunk.Data) - int(b.maxBytes); over > 0 {
		// Cut on a rune boundary so the kept tail stays valid UTF-8.
		for over < len(chunk.Data) && !utf8.RuneStart(chunk.Data[over]) {
			over++
		}
		chunk.Data = chunk.Data[over:]
		b.evicted += int64(over)
	}

	b.chunks = append(b.chunks, chunk)
	b.size += int64(len(chunk.Data))

	drop := 0
	for b.size > b.maxBytes && drop < len(b.chunks) {
		n := int64(len(b.chunks[drop].Data))
		b.size -= n
		b.evicted += n
		drop++
	}
	if drop > 0 {
		// Copy so the evicted prefix can be collected.
		b.chunks = append([]OutputChunk(nil), b.chunks[drop:]...)
	}
}

func (b *ringBuffer) snapshot() []OutputChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OutputChunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// evictedBytes returns how many bytes have been dropped so far. It is
// reported as truncatedBytes on the process record.
func (b *ringBuffer) evictedBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
