// Package journal keeps a bounded, persisted log of operational events.
//
// The journal is a ring buffer of at most MaxLogs entries. Appending past
// the cap evicts the oldest entry. After every mutation the retained set is
// written to the store as one blob; persistence failures never reach the
// caller of Append.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"facekiosk/internal/storage"
)

// MaxLogs is the number of entries retained.
const MaxLogs = 500

// StorageKey is the store key holding the serialized journal.
const StorageKey = "@app_logs"

// Level is the severity of an entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Entry is one journal record. Entries are never modified after Append.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Data      string    `json:"data,omitempty"`
}

// Filter selects entries in Query. The zero Filter matches everything.
type Filter struct {
	Level Level
}

func (f Filter) match(e Entry) bool {
	return f.Level == "" || e.Level == f.Level
}

// Journal is safe for concurrent use.
type Journal struct {
	kv       storage.Store
	logger   *slog.Logger
	now      func() time.Time
	capacity int

	mu   sync.Mutex
	buf  []Entry
	head int // next write position
	size int
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger entries are echoed to.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithCapacity overrides MaxLogs.
func WithCapacity(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.capacity = n
		}
	}
}

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open returns a journal backed by kv, restoring previously persisted
// entries. A blob that cannot be read or decoded yields an empty journal.
func Open(ctx context.Context, kv storage.Store, opts ...Option) *Journal {
	j := &Journal{
		kv:       kv,
		logger:   slog.Default(),
		now:      time.Now,
		capacity: MaxLogs,
	}
	for _, o := range opts {
		o(j)
	}
	j.buf = make([]Entry, j.capacity)
	j.restore(ctx)
	return j
}

func (j *Journal) restore(ctx context.Context) {
	blob, err := j.kv.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			j.logger.Warn("journal: restore failed", "error", err)
		}
		return
	}
	var saved []Entry
	if err := json.Unmarshal([]byte(blob), &saved); err != nil {
		j.logger.Warn("journal: discarding unreadable blob", "error", err)
		return
	}
	if len(saved) > j.capacity {
		saved = saved[:j.capacity]
	}
	// saved is newest first; replay oldest first.
	for i := len(saved) - 1; i >= 0; i-- {
		j.push(saved[i])
	}
}

// push writes e at head, overwriting the oldest entry when full.
func (j *Journal) push(e Entry) {
	j.buf[j.head] = e
	j.head = (j.head + 1) % j.capacity
	if j.size < j.capacity {
		j.size++
	}
}

// snapshot returns retained entries newest first. Caller holds mu.
func (j *Journal) snapshot(f Filter) []Entry {
	out := make([]Entry, 0, j.size)
	for i := 0; i < j.size; i++ {
		e := j.buf[(j.head-1-i+j.capacity)%j.capacity]
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// persist writes the retained set. Caller holds mu so blobs land in
// mutation order.
func (j *Journal) persist() {
	data, err := json.Marshal(j.snapshot(Filter{}))
	if err != nil {
		j.logger.Warn("journal: encode failed", "error", err)
		return
	}
	if err := j.kv.Set(context.Background(), StorageKey, string(data)); err != nil {
		j.logger.Warn("journal: persist failed", "error", err)
	}
}

// Append records an event. payload may be nil; otherwise it is stored as
// indented JSON. Append never fails from the caller's point of view.
func (j *Journal) Append(level Level, category, message string, payload any) {
	if !level.Valid() {
		level = LevelInfo
	}
	e := Entry{
		ID:       uuid.NewString(),
		Level:    level,
		Category: category,
		Message:  message,
		Data:     encodePayload(payload),
	}

	j.mu.Lock()
	e.Timestamp = j.now().UTC()
	j.push(e)
	j.persist()
	j.mu.Unlock()

	j.logger.Log(context.Background(), level.slogLevel(), "["+category+"] "+message, "journal_id", e.ID)
}

func encodePayload(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case error:
		payload = map[string]string{"message": p.Error()}
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}

// Debug appends a debug entry.
func (j *Journal) Debug(category, message string, payload any) {
	j.Append(LevelDebug, category, message, payload)
}

// Info appends an info entry.
func (j *Journal) Info(category, message string, payload any) {
	j.Append(LevelInfo, category, message, payload)
}

// Warn appends a warning entry.
func (j *Journal) Warn(category, message string, payload any) {
	j.Append(LevelWarn, category, message, payload)
}

// Error records err (which may be nil) as the entry payload.
func (j *Journal) Error(category, message string, err error) {
	j.Append(LevelError, category, message, err)
}

// Query returns the entries matching f, most recent first.
func (j *Journal) Query(f Filter) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot(f)
}

// Errors returns the error entries, most recent first.
func (j *Journal) Errors() []Entry {
	return j.Query(Filter{Level: LevelError})
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Clear drops every entry and removes the persisted blob. The in-memory
// journal is empty even when the returned error is non-nil.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf = make([]Entry, j.capacity)
	j.head, j.size = 0, 0
	if err := j.kv.Delete(context.Background(), StorageKey); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

// ExportHeader starts every export.
const ExportHeader = "=== APP LOGS ===\n\n"

// Export renders the retained entries as text, most recent first.
func (j *Journal) Export() string {
	var b strings.Builder
	b.WriteString(ExportHeader)
	for _, e := range j.Query(Filter{}) {
		fmt.Fprintf(&b, "[%s] [%s] [%s]\n", e.Timestamp.Format(time.RFC3339Nano), strings.ToUpper(string(e.Level)), e.Category)
		b.WriteString(e.Message)
		b.WriteString("\n")
		if e.Data != "" {
			b.WriteString("Data: ")
			b.WriteString(e.Data)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
