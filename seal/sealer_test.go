package seal

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jsf0/ncrypt/header"
	"github.com/jsf0/ncrypt/nstring"
)

var testKDF = KDFParams{Time: 1, Memory: 64, Threads: 1}

func testKEK(t *testing.T) *XChaChaKEK {
	t.Helper()
	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	k, err := NewXChaChaKEK(kek)
	require.NoError(t, err)
	return k
}

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
	rsaKeyErr  error
)

// testRSAKey returns a 3072-bit key shared by every test in the package.
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		rsaKey, rsaKeyErr = rsa.GenerateKey(rand.Reader, 3072)
	})
	require.NoError(t, rsaKeyErr)
	return rsaKey
}

// spyCipher records every use and otherwise delegates to ChaCha20Poly1305.
type spyCipher struct {
	ChaCha20Poly1305
	encrypts, decrypts int
}

func (s *spyCipher) Algorithm() string { return "SPY" }

func (s *spyCipher) NewEncryptingWriter(dek []byte, w io.Writer, ad []byte) (io.WriteCloser, error) {
	s.encrypts++
	return s.ChaCha20Poly1305.NewEncryptingWriter(dek, w, ad)
}

func (s *spyCipher) NewDecryptingReader(dek []byte, r io.Reader, ad []byte) (io.Reader, error) {
	s.decrypts++
	return s.ChaCha20Poly1305.NewDecryptingReader(dek, r, ad)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	passKEK, err := NewPassphraseKEK([]byte("correct horse battery staple"), testKDF)
	require.NoError(t, err)
	tinkKEK, _, err := NewTinkKEKFromTemplate()
	require.NoError(t, err)
	x25519KEK, _, err := NewX25519KEKFromTemplate()
	require.NoError(t, err)
	rsaKEK, err := NewRSAOAEPKEK(testRSAKey(t))
	require.NoError(t, err)

	wrappers := []KeyWrapper{testKEK(t), passKEK, tinkKEK, x25519KEK, rsaKEK}
	payloads := map[string][]byte{
		"empty": {},
		"short": []byte("hello envelope"),
		"large": bytes.Repeat([]byte{0x5A}, 3<<20),
	}

	for _, kw := range wrappers {
		for _, alg := range DefaultCiphers().Algorithms() {
			for name, plain := range payloads {
				t.Run(kw.Algorithm()+"/"+alg+"/"+name, func(t *testing.T) {
					alloc := &nstring.CountingAllocator{}
					s := &Sealer{Wrapper: kw, Allocator: alloc}

					var sealed bytes.Buffer
					require.NoError(t, s.Seal(&sealed, bytes.NewReader(plain), header.Present(alg)))
					assert.Equal(t, 0, alloc.Outstanding())

					var out bytes.Buffer
					hdr, err := s.Open(&out, &sealed)
					require.NoError(t, err)
					assert.Equal(t, header.EncryptionHeaderVersion, hdr.Version())
					assert.Equal(t, alg, hdr.Data().Algorithm().String())
					assert.Equal(t, kw.Algorithm(), hdr.Key().Algorithm().String())
					assert.False(t, hdr.IsNull())
					hdr.Release()

					assert.True(t, bytes.Equal(plain, out.Bytes()), "plaintext mismatch")
					assert.Equal(t, 0, alloc.Outstanding())
				})
			}
		}
	}
}

func TestSealBytes_Property(t *testing.T) {
	kek := testKEK(t)
	rapid.Check(t, func(rt *rapid.T) {
		s := &Sealer{Wrapper: kek}
		in := NullBytes{
			Bytes: rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(rt, "payload"),
			Valid: rapid.Bool().Draw(rt, "valid"),
		}
		alg := rapid.SampledFrom(DefaultCiphers().Algorithms()).Draw(rt, "alg")

		env, err := s.SealBytes(in, alg)
		if err != nil {
			rt.Fatalf("SealBytes: %v", err)
		}
		out, err := s.OpenBytes(env)
		if err != nil {
			rt.Fatalf("OpenBytes: %v", err)
		}
		if out.Valid != in.Valid {
			rt.Fatalf("Valid = %v, want %v", out.Valid, in.Valid)
		}
		if in.Valid && !bytes.Equal(out.Bytes, in.Bytes) {
			rt.Fatalf("payload mismatch")
		}
	})
}

func TestSeal_NullPayloadNeverTouchesCipher(t *testing.T) {
	spy := &spyCipher{}
	s := &Sealer{Ciphers: NewCiphers(spy), Wrapper: testKEK(t)}

	var env bytes.Buffer
	src := bytes.NewReader([]byte("must not be read"))
	require.NoError(t, s.Seal(&env, src, header.Null(spy.Algorithm())))
	assert.Equal(t, 0, spy.encrypts)
	assert.Equal(t, len("must not be read"), src.Len())

	// Trailing bytes after a null header are ignored, not decrypted.
	env.WriteString("garbage that is not ciphertext")

	var out bytes.Buffer
	hdr, err := s.Open(&out, &env)
	require.NoError(t, err)
	defer hdr.Release()

	assert.True(t, hdr.IsNull())
	assert.Equal(t, "SPY", hdr.Data().Algorithm().String())
	assert.Equal(t, 0, spy.decrypts)
	assert.Zero(t, out.Len())

	present, err := s.SealBytes(NullBytes{Bytes: []byte("x"), Valid: true}, spy.Algorithm())
	require.NoError(t, err)
	assert.Equal(t, 1, spy.encrypts)
	_, err = s.OpenBytes(present)
	require.NoError(t, err)
	assert.Equal(t, 1, spy.decrypts)
}

func TestOpen_RejectsFutureVersion(t *testing.T) {
	spy := &spyCipher{}
	s := &Sealer{Ciphers: NewCiphers(spy), Wrapper: testKEK(t)}
	env, err := s.SealBytes(NullBytes{Bytes: []byte("payload"), Valid: true}, spy.Algorithm())
	require.NoError(t, err)

	binary.BigEndian.PutUint16(env, uint16(header.EncryptionHeaderVersion+1))
	_, err = s.OpenBytes(env)
	require.ErrorIs(t, err, header.ErrUnsupportedVersion)
	assert.Equal(t, 0, spy.decrypts)
}

func TestOpen_DetectsTampering(t *testing.T) {
	s := &Sealer{Wrapper: testKEK(t)}
	env, err := s.SealBytes(NullBytes{Bytes: []byte("attack at dawn"), Valid: true}, AlgChaCha20Poly1305)
	require.NoError(t, err)

	t.Run("ciphertext", func(t *testing.T) {
		bad := append([]byte{}, env...)
		bad[len(bad)-1] ^= 0x01
		_, err := s.OpenBytes(bad)
		require.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("header_algorithm", func(t *testing.T) {
		other, err := s.SealBytes(NullBytes{Bytes: []byte("attack at dawn"), Valid: true}, AlgChaCha20Poly1305)
		require.NoError(t, err)
		hdrLen := len(env) - (12 + len("attack at dawn") + 16)
		// Header of one envelope, ciphertext of another.
		spliced := append(append([]byte{}, env[:hdrLen]...), other[hdrLen:]...)
		_, err = s.OpenBytes(spliced)
		require.ErrorIs(t, err, ErrDecryption)
	})
}

func TestOpen_Errors(t *testing.T) {
	kek := testKEK(t)
	s := &Sealer{Wrapper: kek}
	env, err := s.SealBytes(NullBytes{Bytes: []byte("data"), Valid: true}, AlgAES256GCMHKDF1MB)
	require.NoError(t, err)

	t.Run("wrong_kek", func(t *testing.T) {
		other := &Sealer{Wrapper: testKEK(t)}
		_, err := other.OpenBytes(env)
		require.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("key_algorithm_mismatch", func(t *testing.T) {
		tk, _, err := NewTinkKEKFromTemplate()
		require.NoError(t, err)
		other := &Sealer{Wrapper: tk}
		_, err = other.OpenBytes(env)
		require.ErrorIs(t, err, ErrKeyAlgorithmMismatch)
	})

	t.Run("unknown_data_algorithm", func(t *testing.T) {
		other := &Sealer{Wrapper: kek, Ciphers: NewCiphers(ChaCha20Poly1305{})}
		_, err := other.OpenBytes(env)
		require.ErrorIs(t, err, ErrUnknownAlgorithm)
	})

	t.Run("truncated_header", func(t *testing.T) {
		_, err := s.OpenBytes(env[:5])
		require.ErrorIs(t, err, header.ErrMalformed)
	})
}

func TestSealOpen_PublicKeyProducer(t *testing.T) {
	consumer, h, err := NewX25519KEKFromTemplate()
	require.NoError(t, err)
	public, err := h.Public()
	require.NoError(t, err)
	producer, err := NewX25519PublicKEK(public)
	require.NoError(t, err)

	env, err := (&Sealer{Wrapper: producer}).SealBytes(NullBytes{Bytes: []byte("to the key holder"), Valid: true}, AlgAESGCM256)
	require.NoError(t, err)

	_, err = (&Sealer{Wrapper: producer}).OpenBytes(env)
	require.ErrorIs(t, err, ErrInvalidKey)

	out, err := (&Sealer{Wrapper: consumer}).OpenBytes(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("to the key holder"), out.Bytes)
}

func TestSeal_Errors(t *testing.T) {
	s := &Sealer{}
	err := s.Seal(io.Discard, bytes.NewReader(nil), header.Present(AlgChaCha20Poly1305))
	require.Error(t, err)

	s = &Sealer{Wrapper: testKEK(t)}
	err = s.Seal(io.Discard, bytes.NewReader(nil), header.Present("RSA_4096"))
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	s = &Sealer{Wrapper: testKEK(t), Allocator: &nstring.LimitedAllocator{Limit: 8}}
	err = s.Seal(io.Discard, bytes.NewReader(nil), header.Present(AlgChaCha20Poly1305))
	require.ErrorIs(t, err, nstring.ErrAllocationFailure)
}

func TestSealer_SharedAcrossGoroutines(t *testing.T) {
	s := &Sealer{Wrapper: testKEK(t)}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 1024)
			env, err := s.SealBytes(NullBytes{Bytes: payload, Valid: true}, AlgChaCha20Poly1305)
			if err != nil {
				errs <- err
				return
			}
			out, err := s.OpenBytes(env)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(payload, out.Bytes) {
				errs <- fmt.Errorf("goroutine %d: payload mismatch", i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	// defaults are resolved per call, never stored
	assert.Nil(t, s.Ciphers)
	assert.Nil(t, s.Logger)
}
