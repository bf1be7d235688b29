// Package cipher provides at-rest encryption for stored message bodies.
//
// The scheme is AES-256-CBC with a fresh random IV per encryption, matching
// the storage format of existing deployments. No authentication tag is
// computed; corruption is detected only through padding checks, so Decrypt
// failures must be treated as data corruption, not retried.
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the required secret key length in bytes (AES-256).
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
)

// ErrIntegrity indicates a ciphertext/IV/key triple that does not decrypt to
// valid plaintext. The record is corrupt; the error is not retryable.
var ErrIntegrity = errors.New("cipher: integrity check failed")

// Cipher encrypts and decrypts message bodies with a fixed process-wide key.
type Cipher struct {
	block stdcipher.Block
}

// New creates a Cipher from a 32-byte secret key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: invalid key length: got %d want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: create AES cipher: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Encrypt encrypts plaintext and returns the ciphertext together with the
// random IV required to decrypt it. A new IV is generated on every call.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("cipher: generate IV: %w", err)
	}

	padded := pad(plaintext)
	ciphertext = make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt given the exact IV stored with the ciphertext.
// A mismatched key, IV or ciphertext yields ErrIntegrity.
func (c *Cipher) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: invalid IV length %d", ErrIntegrity, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: invalid ciphertext length %d", ErrIntegrity, len(ciphertext))
	}

	padded := make([]byte, len(ciphertext))
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// pad applies PKCS#7 padding up to the AES block size.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding, failing on any malformed tail.
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty padded input", ErrIntegrity)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrIntegrity)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: invalid padding", ErrIntegrity)
		}
	}
	return data[:len(data)-n], nil
}
