package nstring

import "errors"

var (
	// ErrInvalidInput is returned when text contains a NUL byte or is not UTF-8,
	// or when the stated length exceeds the supplied buffer.
	ErrInvalidInput = errors.New("nstring: invalid input")

	// ErrAllocationFailure is returned when the owning allocation cannot be made.
	// Callers should treat it as fatal; no container state survives it.
	ErrAllocationFailure = errors.New("nstring: allocation failure")

	// ErrUseAfterRelease and ErrDoubleRelease are panic values, never returned.
	ErrUseAfterRelease = errors.New("nstring: use after release")
	ErrDoubleRelease   = errors.New("nstring: double release")
)
