package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTripAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.Get(ctx, "@branch_id")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "@branch_id", "BRANCH_007"))
	require.NoError(t, s.Set(ctx, "@http_port", "9000"))
	require.NoError(t, s.Delete(ctx, "@http_port"))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "@branch_id")
	require.NoError(t, err)
	assert.Equal(t, "BRANCH_007", v)

	_, err = reopened.Get(ctx, "@http_port")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_CorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewFileStore(dir, WithFileLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{truncated"), 0600))

	_, err = s.Get(ctx, "@branch_id")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "@branch_id", "BRANCH_002"))
	v, err := s.Get(ctx, "@branch_id")
	require.NoError(t, err)
	assert.Equal(t, "BRANCH_002", v)

	aside, err := filepath.Glob(s.Path() + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, aside, 1)
	kept, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, "{truncated", string(kept))

	reopened, err := NewFileStore(dir, WithFileLogger(quietLogger()))
	require.NoError(t, err)
	v, err = reopened.Get(ctx, "@branch_id")
	require.NoError(t, err)
	assert.Equal(t, "BRANCH_002", v)
}

// failSealer never opens anything, like a key derived on another device.
type failSealer struct{ xorSealer }

func (failSealer) Open([]byte) ([]byte, error) { return nil, errors.New("message authentication failed") }

func TestFileStore_UnopenableSealedFileRecovers(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewFileStore(dir, WithSealer(xorSealer{}))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "@server_host", "10.0.0.5"))

	rekeyed, err := NewFileStore(dir, WithSealer(failSealer{}), WithFileLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, rekeyed.Delete(ctx, "@server_host"))
	require.NoError(t, rekeyed.Set(ctx, "@server_port", "8888"))

	aside, err := filepath.Glob(s.Path() + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, aside, 1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// xorSealer is a reversible stand-in that makes sealed output observable.
type xorSealer struct{}

func (xorSealer) Seal(p []byte) ([]byte, error) { return xor(p), nil }
func (xorSealer) Open(p []byte) ([]byte, error) { return xor(p), nil }

func xor(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ 0x5a
	}
	return out
}

func TestFileStore_Sealed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir, WithSealer(xorSealer{}))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "@server_host", "10.0.0.5"))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("10.0.0.5")), "state file must not hold plaintext")

	reopened, err := NewFileStore(dir, WithSealer(xorSealer{}))
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "@server_host")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", v)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Set(ctx, "k", "v"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
