package nstring

import (
	"fmt"
	"sync"
)

// Allocator owns the backing storage of containers. Free receives exactly the
// slice Alloc returned.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

type heapAllocator struct{}

func (heapAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocationFailure, n)
	}
	return make([]byte, n), nil
}

func (heapAllocator) Free([]byte) {}

// Heap allocates from the Go heap. It is used when no allocator is given.
var Heap Allocator = heapAllocator{}

// CountingAllocator wraps another allocator and tracks live allocations.
type CountingAllocator struct {
	Base Allocator

	mu    sync.Mutex
	live  int
	bytes int
	total int
}

func (c *CountingAllocator) base() Allocator {
	if c.Base == nil {
		return Heap
	}
	return c.Base
}

func (c *CountingAllocator) Alloc(n int) ([]byte, error) {
	b, err := c.base().Alloc(n)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.live++
	c.bytes += len(b)
	c.total++
	c.mu.Unlock()
	return b, nil
}

func (c *CountingAllocator) Free(b []byte) {
	c.mu.Lock()
	c.live--
	c.bytes -= len(b)
	c.mu.Unlock()
	c.base().Free(b)
}

// Outstanding returns the number of allocations not yet freed.
func (c *CountingAllocator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// OutstandingBytes returns the size of all allocations not yet freed.
func (c *CountingAllocator) OutstandingBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Total returns the number of successful allocations ever made.
func (c *CountingAllocator) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// LimitedAllocator fails with ErrAllocationFailure once Limit bytes are live.
type LimitedAllocator struct {
	Base  Allocator
	Limit int

	mu   sync.Mutex
	used int
}

func (l *LimitedAllocator) Alloc(n int) ([]byte, error) {
	l.mu.Lock()
	if l.used+n > l.Limit {
		used := l.used
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocationFailure, n, used, l.Limit)
	}
	l.used += n
	l.mu.Unlock()

	base := l.Base
	if base == nil {
		base = Heap
	}
	b, err := base.Alloc(n)
	if err != nil {
		l.mu.Lock()
		l.used -= n
		l.mu.Unlock()
		return nil, err
	}
	return b, nil
}

func (l *LimitedAllocator) Free(b []byte) {
	l.mu.Lock()
	l.used -= len(b)
	l.mu.Unlock()

	base := l.Base
	if base == nil {
		base = Heap
	}
	base.Free(b)
}
