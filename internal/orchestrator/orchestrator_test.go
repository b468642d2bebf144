package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facekiosk/internal/journal"
	"facekiosk/internal/storage"
)

type fixedSettings struct {
	host   string
	port   int
	branch string
}

func (s fixedSettings) ServerHost(context.Context) string { return s.host }
func (s fixedSettings) HTTPPort(context.Context) int      { return s.port }
func (s fixedSettings) BranchID(context.Context) string   { return s.branch }

type connectivity bool

func (c connectivity) IsConnected(context.Context) bool { return bool(c) }

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func newJournal(t *testing.T) *journal.Journal {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return journal.Open(context.Background(), storage.NewMemoryStore(), journal.WithLogger(quiet))
}

// serve starts handler and returns a client pointed at it.
func serve(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *journal.Journal) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	addr := srv.Listener.Addr().(*net.TCPAddr)
	j := newJournal(t)
	c := New(fixedSettings{host: "127.0.0.1", port: addr.Port, branch: "BRANCH_007"}, connectivity(true), j, opts...)
	return c, j
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestSendNoConnectivityMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("unexpected")
	})
	j := newJournal(t)
	c := New(fixedSettings{host: "localhost", port: 8889}, connectivity(false), j, WithDoer(doer))

	_, err := c.Send(context.Background(), Recognize, map[string]any{"image_data": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoConnectivity)
	assert.Equal(t, KindNoConnectivity, KindOf(err))
	assert.Zero(t, calls.Load())

	errs := j.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "HTTP", errs[0].Category)
}

func TestSendTimeoutAtBudget(t *testing.T) {
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})
	j := newJournal(t)
	c := New(fixedSettings{host: "localhost", port: 8889}, connectivity(true), j,
		WithDoer(doer), WithTimeout(200*time.Millisecond))

	start := time.Now()
	_, err := c.Send(context.Background(), Recognize, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)

	errs := j.Errors()
	require.NotEmpty(t, errs)
	assert.Equal(t, "Request timeout", errs[0].Message)
}

func TestSendCallerCancelIsTransportError(t *testing.T) {
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})
	c := New(fixedSettings{host: "localhost", port: 8889}, connectivity(true), newJournal(t), WithDoer(doer))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := c.Send(ctx, Register, nil)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendServerErrorMessage(t *testing.T) {
	c, j := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error_message":"boom"}`)
	})

	_, err := c.Send(context.Background(), Recognize, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServer)

	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "boom", re.Message)
	assert.Equal(t, http.StatusInternalServerError, re.Status)
	assert.Equal(t, "/api/recognize", re.Endpoint)

	warns := j.Query(journal.Filter{Level: journal.LevelWarn})
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Data, re.RequestID)
}

func TestSendServerErrorFallsBackToMessageAndStatus(t *testing.T) {
	t.Run("message field", func(t *testing.T) {
		c, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"error_code":"BAD_IMAGE","message":"no face"}`)
		})
		_, err := c.Send(context.Background(), Recognize, nil)
		var re *RequestError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "no face", re.Message)
		assert.Equal(t, "BAD_IMAGE", re.Code)
	})
	t.Run("non-JSON body", func(t *testing.T) {
		c, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		})
		_, err := c.Send(context.Background(), Recognize, nil)
		var re *RequestError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, KindServer, re.Kind)
		assert.Equal(t, "HTTP 502", re.Message)
	})
}

func TestSendNonJSONSuccessIsProtocolError(t *testing.T) {
	c, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>captive portal</html>")
	})

	_, err := c.Send(context.Background(), Recognize, nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestSendMalformedJSONIsProtocolError(t *testing.T) {
	c, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":`)
	})

	_, err := c.Send(context.Background(), Recognize, nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestSendStatusErrorInSuccessBody(t *testing.T) {
	c, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"error","error_code":"NO_FACE","error_message":"no face detected"}`)
	})

	_, err := c.Send(context.Background(), Recognize, nil)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindServer, re.Kind)
	assert.Equal(t, "NO_FACE", re.Code)
	assert.Equal(t, "no face detected", re.Message)
}

func TestSendConnectionRefusedIsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New(fixedSettings{host: "127.0.0.1", port: port}, connectivity(true), newJournal(t))
	_, err = c.Send(context.Background(), Recognize, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSendInjectsTypeAndID(t *testing.T) {
	var got map[string]any
	var header string
	c, j := serve(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&got)
		assert.Equal(t, "/api/register", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	payload := map[string]any{"customer_name": "Ana"}
	res, err := c.Send(context.Background(), Register, payload)
	require.NoError(t, err)

	assert.Equal(t, "REGISTER", got["request_type"])
	assert.Equal(t, res.RequestID, got["request_id"])
	assert.Equal(t, res.RequestID, header)
	assert.Equal(t, "Ana", got["customer_name"])
	assert.NotContains(t, payload, "request_id", "caller payload must not be mutated")
	assert.Equal(t, "success", res.Body["status"])

	entries := j.Query(journal.Filter{})
	require.Len(t, entries, 2)
	assert.Equal(t, journal.LevelInfo, entries[0].Level)
	assert.Equal(t, journal.LevelDebug, entries[1].Level)
}

func TestSendUnknownType(t *testing.T) {
	c := New(fixedSettings{}, connectivity(true), newJournal(t))
	_, err := c.Send(context.Background(), RequestType("DELETE"), nil)
	assert.ErrorIs(t, err, ErrUnknownRequestType)
}

func TestConcurrentSendsKeepSeparateTrails(t *testing.T) {
	c, j := serve(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["image_data"] == "fail" {
			writeJSON(w, http.StatusInternalServerError, `{"error_message":"boom"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"success","recognized":false}`)
	})

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img := "ok"
			if i%2 == 1 {
				img = "fail"
			}
			res, err := c.Send(context.Background(), Recognize, map[string]any{"image_data": img})
			if err != nil {
				var re *RequestError
				if errors.As(err, &re) {
					ids[i] = re.RequestID
				}
				return
			}
			ids[i] = res.RequestID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}

	entries := j.Query(journal.Filter{})
	require.Len(t, entries, 2*n)
	for i, id := range ids {
		var trail []journal.Entry
		for _, e := range entries {
			if strings.Contains(e.Data, `"`+id+`"`) {
				trail = append(trail, e)
			}
		}
		require.Len(t, trail, 2, "request %s", id)
		want := journal.LevelInfo
		if i%2 == 1 {
			want = journal.LevelWarn
		}
		assert.Equal(t, want, trail[0].Level)
		assert.Equal(t, journal.LevelDebug, trail[1].Level)
	}
}

func TestRecognizeDecodesResponse(t *testing.T) {
	c, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "BRANCH_007", body["branch_id"])
		assert.Equal(t, "aGVsbG8=", body["image_data"])
		writeJSON(w, http.StatusOK, `{"status":"success","recognized":true,"customer_id":"C1",
			"customer_name":"Ana","latest_order":{"order_details":"latte","order_date":"2024-01-01","branch_id":"BRANCH_002"}}`)
	})

	resp, err := c.Recognize(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	assert.True(t, resp.Recognized)
	assert.Equal(t, "Ana", resp.CustomerName)
	require.NotNil(t, resp.LatestOrder)
	assert.Equal(t, "BRANCH_002", resp.LatestOrder.BranchID)
	assert.True(t, strings.HasPrefix(resp.RequestID, "req_"))
}

func TestRegisterShapeMismatchIsProtocolError(t *testing.T) {
	c, j := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","recognized":"maybe"}`)
	})

	_, err := c.Register(context.Background(), "aGVsbG8=", "Ana", "latte")
	assert.ErrorIs(t, err, ErrProtocol)
	assert.NotEmpty(t, j.Errors())
}

func TestHealth(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	c, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthEndpoint, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "OK")
	})

	require.NoError(t, c.Health(context.Background()))
	healthy.Store(false)
	err := c.Health(context.Background())
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusServiceUnavailable, re.Status)
}

func TestRequestIDsAreMonotonicAndUnique(t *testing.T) {
	g := &idGenerator{}
	prev := ""
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := g.next()
		require.True(t, strings.HasPrefix(id, "req_"))
		assert.False(t, seen[id])
		seen[id] = true
		stamp := strings.TrimPrefix(id, "req_")
		stamp = stamp[:len(stamp)-8]
		if prev != "" {
			assert.True(t, len(stamp) > len(prev) || (len(stamp) == len(prev) && stamp > prev),
				"%s must sort after %s", stamp, prev)
		}
		prev = stamp
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(fixedSettings{}, connectivity(true), newJournal(t))
	assert.Equal(t, 30*time.Second, DefaultTimeout)
	assert.Equal(t, DefaultTimeout, c.timeout)

	c = New(fixedSettings{}, connectivity(true), newJournal(t), WithTimeout(0))
	assert.Equal(t, DefaultTimeout, c.timeout, "non-positive override keeps the default")

	c = New(fixedSettings{}, connectivity(true), newJournal(t), WithTimeout(time.Second))
	assert.Equal(t, time.Second, c.timeout)
}
