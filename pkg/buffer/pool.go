// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides pooled byte buffers with single-release leases.
package buffer

import (
	"sync"
)

// Lease is a rented byte region with single-owner semantics.
// Exactly one consumer reads it and exactly one party releases it;
// Release is safe to call more than once but only the first call
// returns the buffer to the pool, and Bytes returns nil afterwards.
type Lease struct {
	mu     sync.Mutex
	buf    []byte
	n      int
	pool   *Pool
	pooled bool
}

// Bytes returns the leased byte region, or nil if the lease was released.
func (l *Lease) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf == nil {
		return nil
	}
	return l.buf[:l.n]
}

// Len returns the usable length of the lease.
func (l *Lease) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Release returns the buffer to the pool. Repeated calls are no-ops.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buf == nil {
		return
	}
	if l.pooled {
		buf := l.buf
		l.pool.put(&buf)
	}
	l.buf = nil
	l.n = 0
}

// Pool is a pool of fixed-capacity byte buffers.
type Pool struct {
	pool *sync.Pool
	size int
}

// New creates a buffer pool handing out buffers of the given capacity.
func New(size int) *Pool {
	if size <= 0 {
		size = 2048
	}
	p := &Pool{size: size}
	p.pool = &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		},
	}
	return p
}

// Size returns the capacity of pooled buffers.
func (p *Pool) Size() int {
	return p.size
}

// Get rents a lease of n usable bytes. Requests larger than the pool's
// buffer size are satisfied with a one-off allocation that is not
// returned to the pool on release.
func (p *Pool) Get(n int) *Lease {
	if n < 0 {
		n = 0
	}
	if n > p.size {
		return &Lease{buf: make([]byte, n), n: n, pool: p}
	}
	bufPtr := p.pool.Get().(*[]byte)
	return &Lease{buf: *bufPtr, n: n, pool: p, pooled: true}
}

func (p *Pool) put(buf *[]byte) {
	// Zero the region so a later rental never observes residual data.
	b := *buf
	for i := range b {
		b[i] = 0
	}
	p.pool.Put(buf)
}
