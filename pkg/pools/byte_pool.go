package pools

import (
	"sync"
)

// Buffer size classes, sized for frames: small replies, typical
// query results, large results and bulk mutations.
const (
	SmallSize  = 512
	MediumSize = 4 << 10
	LargeSize  = 32 << 10
	HugeSize   = 256 << 10
	MaxPool    = 1 << 20 // larger buffers are left to the GC
)

var classes = [...]int{SmallSize, MediumSize, LargeSize, HugeSize}

// BytePool hands out byte slices from per-size-class pools.
type BytePool struct {
	pools [len(classes)]sync.Pool
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i, size := range classes {
		p.pools[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a zero-length slice with at least size capacity.
func (p *BytePool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, 0, size)
	}
	bp, ok := p.pools[i].Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, classes[i])
	}
	return (*bp)[:0]
}

// GetSized returns a slice of exactly size bytes.
func (p *BytePool) GetSized(size int) []byte {
	return p.Get(size)[:size]
}

// Put returns b for reuse. The caller must not touch b afterwards.
// A buffer goes back to the largest class its capacity satisfies.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c < SmallSize || c > MaxPool {
		return
	}
	i := len(classes) - 1
	for i > 0 && c < classes[i] {
		i--
	}
	b = b[:0]
	p.pools[i].Put(&b)
}

var defaultBytePool = NewBytePool()

// GetBytes returns a slice from the default pool.
func GetBytes(size int) []byte {
	return defaultBytePool.Get(size)
}

// GetBytesSized returns a slice of exactly size bytes from the default pool.
func GetBytesSized(size int) []byte {
	return defaultBytePool.GetSized(size)
}

// PutBytes returns b to the default pool.
func PutBytes(b []byte) {
	defaultBytePool.Put(b)
}
