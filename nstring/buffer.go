// Package nstring provides owned, length-tracked text and byte containers
// that can be handed across an opaque boundary.
//
// A container is created by copying caller memory, is read through borrowed
// views, and is released exactly once by whoever currently owns it. Using a
// container after Release, or releasing it twice, is a programmer error and
// panics.
package nstring

import (
	"errors"
	"fmt"
	"runtime"
)

// noCopy makes go vet flag containers copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type buffer struct {
	_ noCopy

	alloc    Allocator
	data     []byte
	released bool
}

func (b *buffer) init(a Allocator, n int) error {
	if a == nil {
		a = Heap
	}
	data, err := a.Alloc(n)
	if err != nil {
		if !errors.Is(err, ErrAllocationFailure) {
			err = fmt.Errorf("%w: %v", ErrAllocationFailure, err)
		}
		return err
	}
	if len(data) != n {
		a.Free(data)
		return fmt.Errorf("%w: allocator returned %d bytes, want %d", ErrAllocationFailure, len(data), n)
	}
	b.alloc = a
	b.data = data
	return nil
}

func (b *buffer) mustLive() {
	if b.released {
		panic(ErrUseAfterRelease)
	}
}

func (b *buffer) release() {
	if b.released {
		panic(ErrDoubleRelease)
	}
	zeroBytes(b.data)
	b.alloc.Free(b.data)
	b.data = nil
	b.released = true
}

// zeroBytes overwrites a byte slice with zeros
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
