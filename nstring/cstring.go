package nstring

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// fillPattern is repeated to build the zero value of a CString created from
// a nil buffer.
const fillPattern = "NC"

// CString is an owned UTF-8 text buffer with no embedded NUL bytes. The
// storage carries one extra NUL terminator that is not part of the value.
type CString struct {
	buf buffer
	n   int
}

// NewCString copies b into a heap-backed CString.
func NewCString(b []byte) (*CString, error) {
	return NewCStringWith(Heap, b, len(b))
}

// CStringFromString copies s into a heap-backed CString.
func CStringFromString(s string) (*CString, error) {
	return NewCString([]byte(s))
}

// NewCStringWith copies the first n bytes of b into storage taken from a.
// A nil b yields n bytes of "NCNC..." filler.
func NewCStringWith(a Allocator, b []byte, n int) (*CString, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrInvalidInput, n)
	}
	var src []byte
	if b != nil {
		if n > len(b) {
			return nil, fmt.Errorf("%w: length %d exceeds buffer of %d bytes", ErrInvalidInput, n, len(b))
		}
		src = b[:n]
		if i := bytes.IndexByte(src, 0); i >= 0 {
			return nil, fmt.Errorf("%w: NUL byte at index %d", ErrInvalidInput, i)
		}
		if !utf8.Valid(src) {
			return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidInput)
		}
	}

	s := &CString{n: n}
	if err := s.buf.init(a, n+1); err != nil {
		return nil, err
	}
	if src != nil {
		copy(s.buf.data, src)
	} else {
		for i := 0; i < n; i++ {
			s.buf.data[i] = fillPattern[i%len(fillPattern)]
		}
	}
	s.buf.data[n] = 0
	return s, nil
}

// Bytes returns a read-only view of the text without the terminator. The view
// is valid until Release.
func (s *CString) Bytes() []byte {
	s.buf.mustLive()
	return s.buf.data[:s.n:s.n]
}

// Terminated returns a read-only view that ends with the NUL terminator.
func (s *CString) Terminated() []byte {
	s.buf.mustLive()
	return s.buf.data[: s.n+1 : s.n+1]
}

// String returns a copy of the text.
func (s *CString) String() string {
	s.buf.mustLive()
	return string(s.buf.data[:s.n])
}

// Len returns the logical length, excluding the terminator.
func (s *CString) Len() int {
	s.buf.mustLive()
	return s.n
}

// Clone returns an independent copy backed by the same allocator.
func (s *CString) Clone() (*CString, error) {
	s.buf.mustLive()
	return NewCStringWith(s.buf.alloc, s.buf.data, s.n)
}

// Released reports whether s is nil or has been released.
func (s *CString) Released() bool {
	return s == nil || s.buf.released
}

// Release wipes and frees the storage. It must be called exactly once.
func (s *CString) Release() {
	s.buf.release()
}
