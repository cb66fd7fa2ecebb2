package engine

import "sync"

// bufferPool recycles block buffers between passes and jobs of the same block size.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (bp *bufferPool) get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// put scrubs the buffer before returning it; random-pass keystream must not linger in memory.
func (bp *bufferPool) put(b *[]byte) {
	if b == nil || len(*b) != bp.size {
		return
	}
	clear(*b)
	bp.pool.Put(b)
}
