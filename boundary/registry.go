// Package boundary exposes the owned containers and headers through integer
// handles, the shape foreign callers see. A Registry is the single owner of
// everything created through it until the matching release or take.
package boundary

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/jsf0/ncrypt/header"
	"github.com/jsf0/ncrypt/nstring"
)

var (
	ErrInvalidHandle = errors.New("boundary: invalid handle")
	ErrHandleKind    = errors.New("boundary: handle has the wrong kind")
)

// Handle identifies an owned object. The zero Handle is never issued.
type Handle uint64

type kind uint8

const (
	kindText kind = iota + 1
	kindBytes
	kindHeader
)

func (k kind) String() string {
	switch k {
	case kindText:
		return "text"
	case kindBytes:
		return "bytes"
	case kindHeader:
		return "header"
	default:
		return "unknown"
	}
}

type entry struct {
	kind   kind
	text   *nstring.CString
	bytes  *nstring.BString
	header *header.EncryptionHeader
}

func (e *entry) release() {
	switch e.kind {
	case kindText:
		e.text.Release()
	case kindBytes:
		e.bytes.Release()
	case kindHeader:
		e.header.Release()
	}
}

// Registry maps handles to owned objects. The map is safe for concurrent use;
// the objects behind it are not, so a handle must have one user at a time.
type Registry struct {
	alloc nstring.Allocator
	log   *logrus.Logger

	mu      sync.RWMutex
	next    Handle
	entries map[Handle]*entry
}

// NewRegistry creates a registry whose containers come from alloc. Either
// argument may be nil.
func NewRegistry(alloc nstring.Allocator, log *logrus.Logger) *Registry {
	if alloc == nil {
		alloc = nstring.Heap
	}
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Registry{
		alloc:   alloc,
		log:     log,
		entries: make(map[Handle]*entry),
	}
}

func (r *Registry) put(e *entry) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.entries[h] = e
	return h
}

func (r *Registry) lookup(h Handle, k kind) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	if e.kind != k {
		return nil, fmt.Errorf("%w: %d is %s, not %s", ErrHandleKind, h, e.kind, k)
	}
	return e, nil
}

// take removes h from the registry and hands its entry to the caller.
func (r *Registry) take(h Handle, k kind) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	if e.kind != k {
		return nil, fmt.Errorf("%w: %d is %s, not %s", ErrHandleKind, h, e.kind, k)
	}
	delete(r.entries, h)
	return e, nil
}

func (r *Registry) release(h Handle, k kind) error {
	e, err := r.take(h, k)
	if err != nil {
		r.log.WithFields(logrus.Fields{"handle": h, "kind": k}).WithError(err).Debug("release rejected")
		return err
	}
	e.release()
	return nil
}

// TextCreate copies the first n bytes of data into a new text container.
func (r *Registry) TextCreate(data []byte, n int) (Handle, error) {
	s, err := nstring.NewCStringWith(r.alloc, data, n)
	if err != nil {
		r.log.WithField("len", n).WithError(err).Debug("error creating text")
		return 0, err
	}
	return r.put(&entry{kind: kindText, text: s}), nil
}

// TextGet borrows the text without its terminator. The view is valid until
// the handle is released.
func (r *Registry) TextGet(h Handle) ([]byte, error) {
	e, err := r.lookup(h, kindText)
	if err != nil {
		return nil, err
	}
	return e.text.Bytes(), nil
}

// TextGetTerminated borrows the text including its NUL terminator.
func (r *Registry) TextGetTerminated(h Handle) ([]byte, error) {
	e, err := r.lookup(h, kindText)
	if err != nil {
		return nil, err
	}
	return e.text.Terminated(), nil
}

func (r *Registry) TextLen(h Handle) (int, error) {
	e, err := r.lookup(h, kindText)
	if err != nil {
		return 0, err
	}
	return e.text.Len(), nil
}

func (r *Registry) TextRelease(h Handle) error {
	return r.release(h, kindText)
}

// BytesCreate copies the first n bytes of data into a new byte container.
func (r *Registry) BytesCreate(data []byte, n int) (Handle, error) {
	s, err := nstring.NewBStringWith(r.alloc, data, n)
	if err != nil {
		r.log.WithField("len", n).WithError(err).Debug("error creating bytes")
		return 0, err
	}
	return r.put(&entry{kind: kindBytes, bytes: s}), nil
}

func (r *Registry) BytesGet(h Handle) ([]byte, error) {
	e, err := r.lookup(h, kindBytes)
	if err != nil {
		return nil, err
	}
	return e.bytes.Bytes(), nil
}

func (r *Registry) BytesLen(h Handle) (int, error) {
	e, err := r.lookup(h, kindBytes)
	if err != nil {
		return 0, err
	}
	return e.bytes.Len(), nil
}

func (r *Registry) BytesRelease(h Handle) error {
	return r.release(h, kindBytes)
}

// HeaderDecode decodes an encoded header from the front of wire and returns
// its handle and the number of bytes consumed.
func (r *Registry) HeaderDecode(wire []byte) (Handle, int, error) {
	hdr, n, err := header.Unmarshal(wire, r.alloc)
	if err != nil {
		r.log.WithField("len", len(wire)).WithError(err).Debug("error decoding header")
		return 0, 0, err
	}
	return r.put(&entry{kind: kindHeader, header: hdr}), n, nil
}

func (r *Registry) HeaderEncode(h Handle) ([]byte, error) {
	e, err := r.lookup(h, kindHeader)
	if err != nil {
		return nil, err
	}
	return e.header.MarshalBinary()
}

// Header borrows the header behind h. It must not be released by the caller.
func (r *Registry) Header(h Handle) (*header.EncryptionHeader, error) {
	e, err := r.lookup(h, kindHeader)
	if err != nil {
		return nil, err
	}
	return e.header, nil
}

// AdoptHeader moves hdr into the registry. On success the caller gives up
// ownership. A nil or released header is rejected.
func (r *Registry) AdoptHeader(hdr *header.EncryptionHeader) (Handle, error) {
	if hdr.Released() {
		err := fmt.Errorf("%w: header is nil or released", ErrInvalidHandle)
		r.log.WithError(err).Debug("adopt rejected")
		return 0, err
	}
	return r.put(&entry{kind: kindHeader, header: hdr}), nil
}

// TakeHeader removes the header from the registry and transfers ownership
// to the caller, who must release it.
func (r *Registry) TakeHeader(h Handle) (*header.EncryptionHeader, error) {
	e, err := r.take(h, kindHeader)
	if err != nil {
		return nil, err
	}
	return e.header, nil
}

func (r *Registry) HeaderRelease(h Handle) error {
	return r.release(h, kindHeader)
}

// Outstanding returns the number of live handles.
func (r *Registry) Outstanding() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close releases every handle still registered. Each one is a leak on the
// caller's side and is reported in the returned error.
func (r *Registry) Close() error {
	r.mu.Lock()
	leaked := r.entries
	r.entries = make(map[Handle]*entry)
	r.mu.Unlock()

	handles := make([]Handle, 0, len(leaked))
	for h := range leaked {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var result *multierror.Error
	for _, h := range handles {
		e := leaked[h]
		r.log.WithFields(logrus.Fields{"handle": h, "kind": e.kind}).Warn("releasing leaked handle")
		e.release()
		result = multierror.Append(result, fmt.Errorf("leaked %s handle %d", e.kind, h))
	}
	return result.ErrorOrNil()
}
