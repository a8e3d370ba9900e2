// Package pool provides byte buffer pooling to reduce GC pressure when file
// content is scanned and discarded.
package pool

import (
	"sync"
)

// maxPooled is the largest buffer capacity returned to the pool.
const maxPooled = 4 << 20

// BytePool pools content buffers
var BytePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 64<<10)
		return &b
	},
}

// GetBytes gets a buffer of length n from pool. Contents are unspecified.
func GetBytes(n int) *[]byte {
	b := BytePool.Get().(*[]byte)
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// PutBytes returns a buffer to pool
func PutBytes(b *[]byte) {
	if b == nil || cap(*b) > maxPooled {
		return
	}
	*b = (*b)[:0]
	BytePool.Put(b)
}
