package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facekiosk/internal/storage"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newJournal(t *testing.T, opts ...Option) (*Journal, *storage.MemoryStore) {
	t.Helper()
	kv := storage.NewMemoryStore()
	return Open(context.Background(), kv, append([]Option{quiet()}, opts...)...), kv
}

func TestQueryIsMostRecentFirst(t *testing.T) {
	j, _ := newJournal(t)
	j.Info("HTTP", "first", nil)
	j.Warn("HTTP", "second", nil)
	j.Debug("IMAGE", "third", nil)

	got := j.Query(Filter{})
	require.Len(t, got, 3)
	assert.Equal(t, "third", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
	assert.Equal(t, "first", got[2].Message)
}

func TestCapEvictsOldest(t *testing.T) {
	j, _ := newJournal(t)
	for i := 0; i < MaxLogs+25; i++ {
		j.Info("TEST", fmt.Sprintf("m%d", i), nil)
	}

	got := j.Query(Filter{})
	require.Len(t, got, MaxLogs)
	assert.Equal(t, fmt.Sprintf("m%d", MaxLogs+24), got[0].Message)
	assert.Equal(t, "m25", got[MaxLogs-1].Message, "m0..m24 must be evicted")
}

func TestFilterByLevel(t *testing.T) {
	j, _ := newJournal(t)
	j.Info("HTTP", "ok", nil)
	j.Error("HTTP", "boom", errors.New("connection refused"))
	j.Warn("HTTP", "slow", nil)
	j.Error("NETWORK", "offline", nil)

	errs := j.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, "offline", errs[0].Message)
	assert.Empty(t, errs[0].Data, "nil error carries no payload")
	assert.Equal(t, "boom", errs[1].Message)
	assert.Contains(t, errs[1].Data, "connection refused")

	assert.Len(t, j.Query(Filter{Level: LevelWarn}), 1)
	assert.Len(t, j.Query(Filter{Level: LevelDebug}), 0)
}

func TestClearAndEmptyExport(t *testing.T) {
	j, kv := newJournal(t)
	j.Info("HTTP", "one", map[string]any{"request_id": "req_1"})
	require.NoError(t, j.Clear())

	assert.Empty(t, j.Query(Filter{}))
	assert.Equal(t, 0, j.Len())
	assert.Equal(t, ExportHeader, j.Export())

	_, err := kv.Get(context.Background(), StorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExportFormat(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	j, _ := newJournal(t, WithClock(func() time.Time { return fixed }))
	j.Warn("HTTP", "Request failed", map[string]any{"status": 500})
	j.Info("NETWORK", "Back online", nil)

	want := ExportHeader +
		"[2025-03-14T09:26:53Z] [INFO] [NETWORK]\nBack online\n\n" +
		"[2025-03-14T09:26:53Z] [WARN] [HTTP]\nRequest failed\nData: {\n  \"status\": 500\n}\n\n"
	assert.Equal(t, want, j.Export())
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()

	j := Open(ctx, kv, quiet())
	for i := 0; i < 5; i++ {
		j.Info("TEST", fmt.Sprintf("m%d", i), nil)
	}
	before := j.Query(Filter{})

	reopened := Open(ctx, kv, quiet())
	assert.Equal(t, before, reopened.Query(Filter{}))

	reopened.Info("TEST", "m5", nil)
	assert.Equal(t, "m5", reopened.Query(Filter{})[0].Message)
}

func TestRestoreHonoursSmallerCapacity(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	j := Open(ctx, kv, quiet())
	for i := 0; i < 10; i++ {
		j.Info("TEST", fmt.Sprintf("m%d", i), nil)
	}

	small := Open(ctx, kv, quiet(), WithCapacity(3))
	got := small.Query(Filter{})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m9", "m8", "m7"}, []string{got[0].Message, got[1].Message, got[2].Message})
}

func TestCorruptBlobStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, StorageKey, "{{{"))

	j := Open(ctx, kv, quiet())
	assert.Equal(t, 0, j.Len())
	j.Info("TEST", "fresh", nil)
	assert.Equal(t, 1, j.Len())
}

type failingStore struct{ *storage.MemoryStore }

func (*failingStore) Set(context.Context, string, string) error { return errors.New("quota exceeded") }
func (*failingStore) Delete(context.Context, string) error      { return errors.New("quota exceeded") }

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	kv := &failingStore{MemoryStore: storage.NewMemoryStore()}
	j := Open(context.Background(), kv, quiet())

	assert.NotPanics(t, func() { j.Info("HTTP", "still recorded", nil) })
	assert.Equal(t, 1, j.Len())

	err := j.Clear()
	assert.Error(t, err)
	assert.Equal(t, 0, j.Len(), "memory is cleared even when persistence fails")
}

func TestConcurrentAppendsKeepCapAndUniqueIDs(t *testing.T) {
	j, _ := newJournal(t, WithCapacity(100))

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				j.Info("TEST", fmt.Sprintf("g%d-%d", g, i), nil)
			}
		}(g)
	}
	wg.Wait()

	got := j.Query(Filter{})
	require.Len(t, got, 100)
	seen := make(map[string]bool, len(got))
	for _, e := range got {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestUnknownLevelIsRecordedAsInfo(t *testing.T) {
	j, _ := newJournal(t)
	j.Append(Level("fatal"), "TEST", "odd", nil)
	assert.Equal(t, LevelInfo, j.Query(Filter{})[0].Level)
}

func TestUnencodablePayloadFallsBackToText(t *testing.T) {
	j, _ := newJournal(t)
	j.Info("TEST", "chan", map[string]any{"c": make(chan int)})
	assert.True(t, strings.HasPrefix(j.Query(Filter{})[0].Data, "map["))
}
