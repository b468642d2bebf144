package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DefaultFileName is the state file created inside the data directory.
const DefaultFileName = "kiosk_state.json"

// FileStore keeps every key in a single JSON object on disk. The whole file
// is rewritten on each mutation through a temp file and rename, so a crash
// leaves either the old or the new contents.
//
// A state file that cannot be opened or decoded is renamed aside and the
// store starts empty, so later writes are never blocked by it.
type FileStore struct {
	filePath string
	sealer   Sealer
	logger   *slog.Logger

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithSealer encrypts the state file with s.
func WithSealer(s Sealer) FileOption {
	return func(fs *FileStore) { fs.sealer = s }
}

// WithFileLogger reports recovered state files to logger.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(fs *FileStore) { fs.logger = logger }
}

// NewFileStore returns a store backed by dir/kiosk_state.json. The directory
// is created if needed.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &FileStore{filePath: filepath.Join(dir, DefaultFileName), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the state file location.
func (s *FileStore) Path() string { return s.filePath }

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", err
	}
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.flush(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// load reads the state file once. A missing file is an empty store.
func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.values = make(map[string]string)
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	values, err := s.decode(data)
	if err != nil {
		if qerr := s.quarantine(err); qerr != nil {
			return qerr
		}
		values = make(map[string]string)
	}
	s.values = values
	s.loaded = true
	return nil
}

func (s *FileStore) decode(data []byte) (map[string]string, error) {
	var err error
	if s.sealer != nil {
		data, err = s.sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("open state file: %w", err)
		}
	}
	values := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("decode state file: %w", err)
		}
	}
	return values, nil
}

// quarantine moves an unreadable state file out of the way.
func (s *FileStore) quarantine(cause error) error {
	aside := s.filePath + ".corrupt-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.Rename(s.filePath, aside); err != nil {
		return fmt.Errorf("%w (move aside: %v)", cause, err)
	}
	s.logger.Warn("unreadable state file moved aside, starting empty", "error", cause, "moved_to", aside)
	return nil
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("seal state file: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".kiosk_state-*")
	if err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
