package nstring

import "fmt"

// BString is an owned binary buffer. Any byte value is allowed.
type BString struct {
	buf buffer
}

// NewBString copies b into a heap-backed BString.
func NewBString(b []byte) (*BString, error) {
	return NewBStringWith(Heap, b, len(b))
}

// NewBStringWith copies the first n bytes of b into storage taken from a.
// A nil b yields n zero bytes.
func NewBStringWith(a Allocator, b []byte, n int) (*BString, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrInvalidInput, n)
	}
	if b != nil && n > len(b) {
		return nil, fmt.Errorf("%w: length %d exceeds buffer of %d bytes", ErrInvalidInput, n, len(b))
	}

	s := &BString{}
	if err := s.buf.init(a, n); err != nil {
		return nil, err
	}
	if b != nil {
		copy(s.buf.data, b[:n])
	}
	return s, nil
}

// Bytes returns a read-only view of the contents, valid until Release.
func (s *BString) Bytes() []byte {
	s.buf.mustLive()
	n := len(s.buf.data)
	return s.buf.data[:n:n]
}

func (s *BString) Len() int {
	s.buf.mustLive()
	return len(s.buf.data)
}

// Clone returns an independent copy backed by the same allocator.
func (s *BString) Clone() (*BString, error) {
	s.buf.mustLive()
	return NewBStringWith(s.buf.alloc, s.buf.data, len(s.buf.data))
}

// Released reports whether s is nil or has been released.
func (s *BString) Released() bool {
	return s == nil || s.buf.released
}

// Release wipes and frees the storage. It must be called exactly once.
func (s *BString) Release() {
	s.buf.release()
}
