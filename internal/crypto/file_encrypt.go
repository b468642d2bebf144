package crypto

import (
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKeyLength is returned when the provided key length is invalid.
var ErrInvalidKeyLength = errors.New("invalid key length")

// ErrSealedTooShort is returned by Open when the input cannot hold a nonce.
var ErrSealedTooShort = errors.New("sealed data too short")

// Sealer encrypts state blobs with XChaCha20-Poly1305. Output layout is
// nonce || ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer for a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plain under a fresh random nonce.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	nonce := MustRandom(s.aead.NonceSize())
	out := make([]byte, 0, len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, nil), nil
}

// Open authenticates and decrypts the output of Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrSealedTooShort
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], nil)
}
