// Package sealedblob implements the CCOSEAL1 on-disk envelope format:
// an encrypted, machine-and-user-bound container for small artifacts.
//
// Layout: 8-byte magic "CCOSEAL1" + 4-byte little-endian version (=1) +
// header (16-byte salt, 12-byte nonce, 32-byte machine-binding tag) +
// AEAD ciphertext of gzip(plaintext) + trailing 32-byte HMAC-SHA256 over
// every preceding byte.
package sealedblob

import (
	"bytes"
	"compress/gzip"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var magic = [8]byte{'C', 'C', 'O', 'S', 'E', 'A', 'L', '1'}

const (
	version       = 1
	saltSize      = 16
	nonceSize     = chacha20poly1305.NonceSize
	bindingSize   = 32
	hmacSize      = sha256.Size
	headerSize    = saltSize + nonceSize + bindingSize
	preambleSize  = 8 + 4 // magic + version
)

var (
	ErrBadMagic       = errors.New("sealedblob: bad magic")
	ErrUnknownVersion = errors.New("sealedblob: unknown version")
	ErrTruncated      = errors.New("sealedblob: truncated blob")
	ErrHMACMismatch   = errors.New("sealedblob: hmac verification failed")
	ErrWrongMachine   = errors.New("sealedblob: machine binding mismatch")
)

// Seal encrypts plaintext under a key derived from secret and the given
// machineID (typically a stable per-machine/per-user identifier), and
// returns the CCOSEAL1 envelope bytes.
func Seal(secret []byte, machineID string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("sealedblob: salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sealedblob: nonce: %w", err)
	}

	aeadKey, hmacKey, err := deriveKeys(secret, salt)
	if err != nil {
		return nil, err
	}

	binding := machineBindingTag(hmacKey, machineID)

	compressed, err := gzipCompress(plaintext)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(aeadKey)
	if err != nil {
		return nil, fmt.Errorf("sealedblob: aead: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, compressed, nil)

	var buf bytes.Buffer
	buf.Write(magic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(version))
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(binding)
	buf.Write(ciphertext)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(buf.Bytes())
	buf.Write(mac.Sum(nil))

	return buf.Bytes(), nil
}

// Open verifies and decrypts a CCOSEAL1 envelope. Magic and version are
// checked first; the HMAC trailer is verified in constant time before any
// decryption is attempted.
func Open(secret []byte, machineID string, blob []byte) ([]byte, error) {
	if len(blob) < preambleSize+headerSize+hmacSize {
		return nil, ErrTruncated
	}
	if !bytes.Equal(blob[:8], magic[:]) {
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint32(blob[8:12]) != version {
		return nil, ErrUnknownVersion
	}

	body := blob[:len(blob)-hmacSize]
	trailer := blob[len(blob)-hmacSize:]

	salt := blob[preambleSize : preambleSize+saltSize]
	nonce := blob[preambleSize+saltSize : preambleSize+saltSize+nonceSize]
	binding := blob[preambleSize+saltSize+nonceSize : preambleSize+headerSize]
	ciphertext := blob[preambleSize+headerSize : len(blob)-hmacSize]

	aeadKey, hmacKey, err := deriveKeys(secret, salt)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(body)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, trailer) {
		return nil, ErrHMACMismatch
	}

	wantBinding := machineBindingTag(hmacKey, machineID)
	if !hmac.Equal(wantBinding, binding) {
		return nil, ErrWrongMachine
	}

	aead, err := chacha20poly1305.New(aeadKey)
	if err != nil {
		return nil, fmt.Errorf("sealedblob: aead: %w", err)
	}
	compressed, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sealedblob: decrypt failed: %w", err)
	}

	return gzipDecompress(compressed)
}

func deriveKeys(secret, salt []byte) (aeadKey, hmacKey []byte, err error) {
	h := hkdf.New(sha256.New, secret, salt, []byte("cco-sealedblob-v1"))
	aeadKey = make([]byte, chacha20poly1305.KeySize)
	if _, err = io.ReadFull(h, aeadKey); err != nil {
		return nil, nil, fmt.Errorf("sealedblob: hkdf aead key: %w", err)
	}
	hmacKey = make([]byte, sha256.Size)
	if _, err = io.ReadFull(h, hmacKey); err != nil {
		return nil, nil, fmt.Errorf("sealedblob: hkdf hmac key: %w", err)
	}
	return aeadKey, hmacKey, nil
}

func machineBindingTag(hmacKey []byte, machineID string) []byte {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write([]byte(machineID))
	return mac.Sum(nil)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("sealedblob: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealedblob: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sealedblob: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sealedblob: gzip read: %w", err)
	}
	return out, nil
}
