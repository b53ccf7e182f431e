// Package optimize holds small allocation-reduction helpers for the
// media-engine's hot forwarding path.
package optimize

import "sync"

// BytePool is a pool of fixed-size byte slices used by the RTP forwarding
// loop to read packets off the wire without allocating per packet.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

func (p *BytePool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}
