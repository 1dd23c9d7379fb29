package header

import (
	"errors"
	"fmt"
	"strings"
)

// Version is the format tag carried as the first field of every header.
type Version uint16

const (
	// LegacyEncryptionHeaderVersion is the flat layout without nested version
	// tags. It is decoded but never written by default.
	LegacyEncryptionHeaderVersion Version = 1

	// EncryptionHeaderVersion is the layout written by this build: the outer
	// tag wraps data and key headers that carry their own tags.
	EncryptionHeaderVersion Version = 2

	DataHeaderVersion Version = 1
	KeyHeaderVersion  Version = 1
)

var (
	ErrUnsupportedVersion = errors.New("header: unsupported version")
	ErrMalformed          = errors.New("header: malformed")
)

// Versionable is implemented by every struct whose first field is a version
// tag.
type Versionable interface {
	HeaderVersion() Version
}

// UnsupportedVersionError reports a version tag this build cannot interpret.
type UnsupportedVersionError struct {
	Struct string
	Got    Version
	Want   []Version
}

func (e *UnsupportedVersionError) Error() string {
	want := make([]string, len(e.Want))
	for i, v := range e.Want {
		want[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("header: unsupported %s version %d (supported: %s)", e.Struct, e.Got, strings.Join(want, ", "))
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// CheckVersion returns an *UnsupportedVersionError unless v carries one of the
// supported tags. Only the tag is read.
func CheckVersion(v Versionable, supported ...Version) error {
	got := v.HeaderVersion()
	for _, s := range supported {
		if got == s {
			return nil
		}
	}
	return &UnsupportedVersionError{Struct: structName(v), Got: got, Want: supported}
}

func structName(v Versionable) string {
	switch v.(type) {
	case *EncryptionHeader:
		return "encryption header"
	case *DataHeader:
		return "data header"
	case *KeyHeader:
		return "key header"
	default:
		return fmt.Sprintf("%T", v)
	}
}
