package seal

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/streamingaead"
	"github.com/tink-crypto/tink-go/v2/tink"
)

const streamingKeyLen = 32 // 256 bits for AES-256

// StreamingAESGCM is Tink's AES-256-GCM-HKDF streaming AEAD with 1 MiB
// segments. Each segment is authenticated on its own, so payloads of any size
// stream in constant memory.
type StreamingAESGCM struct{}

func (StreamingAESGCM) Algorithm() string { return AlgAES256GCMHKDF1MB }

func (StreamingAESGCM) KeySize() int { return streamingKeyLen }

func (s StreamingAESGCM) NewEncryptingWriter(dek []byte, w io.Writer, ad []byte) (io.WriteCloser, error) {
	primitive, err := s.primitive(dek)
	if err != nil {
		return nil, err
	}
	encWriter, err := primitive.NewEncryptingWriter(w, ad)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypting writer: %w", err)
	}
	return encWriter, nil
}

func (s StreamingAESGCM) NewDecryptingReader(dek []byte, r io.Reader, ad []byte) (io.Reader, error) {
	primitive, err := s.primitive(dek)
	if err != nil {
		return nil, err
	}
	decReader, err := primitive.NewDecryptingReader(r, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create decrypting reader: %w", ErrDecryption, err)
	}
	return decReader, nil
}

func (s StreamingAESGCM) primitive(dek []byte) (tink.StreamingAEAD, error) {
	if err := checkKeySize(s, dek); err != nil {
		return nil, err
	}
	keysetHandle, err := createKeysetFromKey(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyset: %w", err)
	}
	primitive, err := streamingaead.New(keysetHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming AEAD: %w", err)
	}
	return primitive, nil
}

// createKeysetFromKey creates a Tink keyset handle from a raw key
func createKeysetFromKey(key []byte) (*keyset.Handle, error) {
	value := buildAesGcmHkdfStreamingKeyValue(key)
	defer zeroBytes(value)
	keyValue := base64.StdEncoding.EncodeToString(value)

	keysetJSON := fmt.Sprintf(`{
		"primaryKeyId": 1,
		"key": [{
			"keyData": {
				"typeUrl": "type.googleapis.com/google.crypto.tink.AesGcmHkdfStreamingKey",
				"keyMaterialType": "SYMMETRIC",
				"value": "%s"
			},
			"outputPrefixType": "RAW",
			"keyId": 1,
			"status": "ENABLED"
		}]
	}`, keyValue)

	return insecurecleartextkeyset.Read(
		keyset.NewJSONReader(strings.NewReader(keysetJSON)),
	)
}

// buildAesGcmHkdfStreamingKeyValue builds the protobuf-encoded key value.
// See: https://github.com/tink-crypto/tink/blob/master/proto/aes_gcm_hkdf_streaming.proto
func buildAesGcmHkdfStreamingKeyValue(key []byte) []byte {
	segmentSize := uint32(1048576)            // 1MB
	derivedKeySize := uint32(streamingKeyLen) // AES-256
	hkdfHashType := uint32(3)                 // SHA256

	params := []byte{}
	params = append(params, 0x08)                            // field 1, varint
	params = append(params, encodeVarint(segmentSize)...)    // ciphertext_segment_size
	params = append(params, 0x10)                            // field 2, varint
	params = append(params, encodeVarint(derivedKeySize)...) // derived_key_size
	params = append(params, 0x18)                            // field 3, varint
	params = append(params, encodeVarint(hkdfHashType)...)   // hkdf_hash_type

	result := []byte{}
	result = append(result, 0x08)              // field 1 (version), varint
	result = append(result, 0x00)              // version = 0
	result = append(result, 0x12)              // field 2 (params), length-delimited
	result = append(result, byte(len(params))) // params length
	result = append(result, params...)         // params
	result = append(result, 0x1a)              // field 3 (key_value), length-delimited
	result = append(result, byte(len(key)))    // key length
	result = append(result, key...)            // key

	return result
}

func encodeVarint(v uint32) []byte {
	var buf []byte
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	buf = append(buf, byte(v))
	return buf
}
