package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	saltFile = "seal.salt"
	saltSize = 32
)

// DeriveStorageKey derives the state sealing key from the device fingerprint
// and a per-install salt using HKDF-SHA256.
func DeriveStorageKey(deviceFP string, salt []byte) ([]byte, error) {
	if deviceFP == "" {
		return nil, fmt.Errorf("derive storage key: empty device fingerprint")
	}
	h := hkdf.New(sha256.New, []byte(deviceFP), salt, []byte("facekiosk-state-v1"))
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadOrCreateSalt returns the salt stored in dir, creating a random one on
// first use. A salt file of the wrong size is renamed aside rather than
// overwritten, and a fresh salt replaces it.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(path)
	switch {
	case err == nil && len(salt) == saltSize:
		return salt, nil
	case err == nil:
		aside := path + ".corrupt-" + strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := os.Rename(path, aside); err != nil {
			return nil, fmt.Errorf("move bad salt aside: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read salt: %w", err)
	}
	salt = MustRandom(saltSize)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
