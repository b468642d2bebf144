// Package settings is the durable configuration of a kiosk: branch id and
// the address of the recognition server.
//
// Reads never fail. When a key has no persisted value, or the store cannot
// be read, the declared default is returned and the failure is logged.
// Writes report success as a bool and never roll back other keys.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"facekiosk/internal/storage"
)

// Key names a known setting.
type Key string

const (
	KeyBranchID   Key = "branch_id"
	KeyServerHost Key = "server_host"
	KeyServerPort Key = "server_port"
	KeyHTTPPort   Key = "http_port"
)

// Kind is the declared value type of a setting.
type Kind int

const (
	KindString Kind = iota
	KindInt
)

// Entry declares a known setting.
type Entry struct {
	Key     Key
	Kind    Kind
	Default string
	// storageKey is where the value lives in the Store.
	storageKey string
}

// Defaults for every known setting.
const (
	DefaultBranchID   = "BRANCH_001"
	DefaultServerHost = "localhost"
	DefaultServerPort = 8888
	DefaultHTTPPort   = 8889
)

var entries = []Entry{
	{Key: KeyBranchID, Kind: KindString, Default: DefaultBranchID, storageKey: "@branch_id"},
	{Key: KeyServerHost, Kind: KindString, Default: DefaultServerHost, storageKey: "@server_host"},
	{Key: KeyServerPort, Kind: KindInt, Default: strconv.Itoa(DefaultServerPort), storageKey: "@server_port"},
	{Key: KeyHTTPPort, Kind: KindInt, Default: strconv.Itoa(DefaultHTTPPort), storageKey: "@http_port"},
}

// Entries returns the declared settings in reset order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func lookupEntry(key Key) (Entry, bool) {
	for _, e := range entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

var errUnknownKey = errors.New("unknown setting")

// Store reads and writes settings through a storage.Store.
type Store struct {
	kv     storage.Store
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a settings store over kv.
func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{kv: kv, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// lookup returns the persisted value of key, storage.ErrNotFound when
// nothing is stored, or the underlying failure.
func (s *Store) lookup(ctx context.Context, key Key) (string, error) {
	e, ok := lookupEntry(key)
	if !ok {
		return "", errUnknownKey
	}
	v, err := s.kv.Get(ctx, e.storageKey)
	if err != nil {
		return "", err
	}
	if e.Kind == KindInt {
		if _, err := strconv.Atoi(v); err != nil {
			return "", err
		}
	}
	return v, nil
}

func (s *Store) raw(ctx context.Context, key Key) string {
	e, ok := lookupEntry(key)
	if !ok {
		s.logger.Warn("settings: read of unknown key", "key", key)
		return ""
	}
	v, err := s.lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("settings: falling back to default", "key", key, "error", err)
		}
		return e.Default
	}
	return v
}

// String returns the value of key, or its default.
func (s *Store) String(ctx context.Context, key Key) string {
	return s.raw(ctx, key)
}

// Int returns the value of an integer key, or its default.
func (s *Store) Int(ctx context.Context, key Key) int {
	n, err := strconv.Atoi(s.raw(ctx, key))
	if err != nil {
		return 0
	}
	return n
}

// SetString persists value for key. It reports whether the write succeeded.
func (s *Store) SetString(ctx context.Context, key Key, value string) bool {
	e, ok := lookupEntry(key)
	if !ok {
		s.logger.Warn("settings: write of unknown key", "key", key)
		return false
	}
	if e.Kind == KindInt {
		if _, err := strconv.Atoi(value); err != nil {
			s.logger.Warn("settings: rejected non-integer value", "key", key, "value", value)
			return false
		}
	}
	if err := s.kv.Set(ctx, e.storageKey, value); err != nil {
		s.logger.Error("settings: write failed", "key", key, "error", err)
		return false
	}
	return true
}

// SetInt persists an integer value for key.
func (s *Store) SetInt(ctx context.Context, key Key, value int) bool {
	e, ok := lookupEntry(key)
	if !ok || e.Kind != KindInt {
		s.logger.Warn("settings: integer write to non-integer key", "key", key)
		return false
	}
	return s.SetString(ctx, key, strconv.Itoa(value))
}

// Reset writes every known key back to its default, one key at a time, and
// returns the outcome per key.
func (s *Store) Reset(ctx context.Context) map[Key]bool {
	out := make(map[Key]bool, len(entries))
	for _, e := range entries {
		out[e.Key] = s.SetString(ctx, e.Key, e.Default)
	}
	return out
}

func (s *Store) BranchID(ctx context.Context) string   { return s.String(ctx, KeyBranchID) }
func (s *Store) ServerHost(ctx context.Context) string { return s.String(ctx, KeyServerHost) }
func (s *Store) ServerPort(ctx context.Context) int    { return s.Int(ctx, KeyServerPort) }
func (s *Store) HTTPPort(ctx context.Context) int      { return s.Int(ctx, KeyHTTPPort) }

// IsFirstLaunch reports whether no branch id has ever been saved. A read
// failure counts as a first launch.
func (s *Store) IsFirstLaunch(ctx context.Context) bool {
	_, err := s.lookup(ctx, KeyBranchID)
	return err != nil
}

// Snapshot is the effective value of every setting.
type Snapshot struct {
	BranchID   string `json:"branch_id"`
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
	HTTPPort   int    `json:"http_port"`
}

// Snapshot reads every setting, falling back to defaults.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	return Snapshot{
		BranchID:   s.BranchID(ctx),
		ServerHost: s.ServerHost(ctx),
		ServerPort: s.ServerPort(ctx),
		HTTPPort:   s.HTTPPort(ctx),
	}
}
