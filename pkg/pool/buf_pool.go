package pool

import "sync"

const defaultBufSize = 512

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, defaultBufSize)
		return &b
	},
}

// GetBuf returns an empty buffer with at least size bytes of capacity.
// The caller must call ReleaseBuf after use.
func GetBuf(size int) *[]byte {
	b := bufPool.Get().(*[]byte)
	if cap(*b) < size {
		nb := make([]byte, 0, size)
		return &nb
	}
	*b = (*b)[:0]
	return b
}

// ReleaseBuf returns b to the pool. b must not be used afterwards.
func ReleaseBuf(b *[]byte) {
	if b == nil || cap(*b) > 64*1024 {
		return
	}
	bufPool.Put(b)
}
