// Package orchestrator issues recognition and registration requests to the
// remote service and classifies every outcome.
//
// A call resolves the server address from settings, short-circuits when the
// device is offline, sends one HTTP request under a hard timeout and maps
// the result to a Result or a *RequestError. Every step is written to the
// journal keyed by request id. Nothing is retried here; callers re-invoke
// Send if they want another attempt.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"facekiosk/internal/journal"
)

// RequestType selects the remote operation.
type RequestType string

const (
	Recognize RequestType = "RECOGNIZE"
	Register  RequestType = "REGISTER"
)

// Endpoint returns the path for t.
func (t RequestType) Endpoint() (string, bool) {
	switch t {
	case Recognize:
		return "/api/recognize", true
	case Register:
		return "/api/register", true
	}
	return "", false
}

const (
	// DefaultTimeout is the hard budget of one request.
	DefaultTimeout = 30 * time.Second
	// HealthEndpoint is the liveness probe of the service.
	HealthEndpoint = "/api/health"
	// TracerName names the tracer request spans are recorded under.
	TracerName = "facekiosk/orchestrator"

	category     = "HTTP"
	maxBodyBytes = 8 << 20
	bodySnippet  = 500
)

// Settings resolves where requests go.
type Settings interface {
	ServerHost(ctx context.Context) string
	HTTPPort(ctx context.Context) int
	BranchID(ctx context.Context) string
}

// Connectivity reports whether the device is online.
type Connectivity interface {
	IsConnected(ctx context.Context) bool
}

// Journal receives the lifecycle of every request.
type Journal interface {
	Append(level journal.Level, category, message string, payload any)
}

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the request orchestrator. It is safe for concurrent use; calls
// are independent of each other.
type Client struct {
	settings Settings
	conn     Connectivity
	journal  Journal
	doer     Doer
	timeout  time.Duration
	tracer   trace.Tracer
	ids      *idGenerator
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New returns a Client that reads its target from settings, checks conn
// before every call and journals to j. Without options it uses a plain
// http.Client, DefaultTimeout and the global tracer provider.
func New(settings Settings, conn Connectivity, j Journal, opts ...Option) *Client {
	c := &Client{
		settings: settings,
		conn:     conn,
		journal:  j,
		// No client-level timeout: the per-request context carries the budget.
		doer:    &http.Client{},
		timeout: DefaultTimeout,
		tracer:  otel.Tracer(TracerName),
		ids:     &idGenerator{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result is a successful response.
type Result struct {
	RequestID string
	Status    int
	Body      map[string]any
	Raw       []byte
	Duration  time.Duration
}

// requestContext lives for the duration of one call.
type requestContext struct {
	id       string
	typ      string
	endpoint string
	url      string
	started  time.Time
}

func (rc *requestContext) fields(extra map[string]any) map[string]any {
	f := map[string]any{
		"request_id": rc.id,
		"endpoint":   rc.endpoint,
	}
	if rc.url != "" {
		f["url"] = rc.url
	}
	if !rc.started.IsZero() {
		f["duration_ms"] = time.Since(rc.started).Milliseconds()
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// Send issues one request of type rt. payload holds the protocol fields;
// request_type and a fresh request_id are added to a copy of it.
func (c *Client) Send(ctx context.Context, rt RequestType, payload map[string]any) (*Result, error) {
	endpoint, ok := rt.Endpoint()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, rt)
	}
	rc := &requestContext{id: c.ids.next(), typ: string(rt), endpoint: endpoint}

	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["request_type"] = string(rt)
	body["request_id"] = rc.id

	return c.execute(ctx, rc, http.MethodPost, body, true)
}

// Health probes GET /api/health. Any 2xx is healthy.
func (c *Client) Health(ctx context.Context) error {
	rc := &requestContext{id: c.ids.next(), typ: "HEALTH", endpoint: HealthEndpoint}
	_, err := c.execute(ctx, rc, http.MethodGet, nil, false)
	return err
}

var errBudgetExceeded = errors.New("request budget exceeded")

func (c *Client) execute(ctx context.Context, rc *requestContext, method string, body any, wantJSON bool) (*Result, error) {
	host := c.settings.ServerHost(ctx)
	port := c.settings.HTTPPort(ctx)
	rc.url = "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + rc.endpoint

	ctx, span := c.tracer.Start(ctx, "kiosk.request", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kiosk.request_id", rc.id),
			attribute.String("kiosk.request_type", rc.typ),
			attribute.String("http.request.method", method),
			attribute.String("url.full", rc.url),
		))
	defer span.End()

	res, rerr := c.attempt(ctx, rc, method, body, wantJSON)
	if rerr != nil {
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Kind.String())
		if rerr.Status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", rerr.Status))
		}
		return nil, rerr
	}
	span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
	return res, nil
}

func (c *Client) attempt(ctx context.Context, rc *requestContext, method string, body any, wantJSON bool) (*Result, *RequestError) {
	if !c.conn.IsConnected(ctx) {
		return nil, c.fail(rc, &RequestError{Kind: KindNoConnectivity, Message: "device reports no network connectivity"}, nil)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, c.fail(rc, &RequestError{Kind: KindProtocol, Message: "encode request", Err: err}, nil)
		}
		reader = bytes.NewReader(data)
	}

	c.journal.Append(journal.LevelDebug, category, "Sending request to "+rc.url, rc.fields(map[string]any{
		"request_type": rc.typ,
	}))
	rc.started = time.Now()

	reqCtx, cancel := context.WithTimeoutCause(ctx, c.timeout, errBudgetExceeded)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rc.url, reader)
	if err != nil {
		return nil, c.fail(rc, &RequestError{Kind: KindTransport, Message: "build request", Err: err}, nil)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", rc.id)

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, c.fail(rc, c.transportFailure(ctx, reqCtx, err), nil)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		rerr := c.transportFailure(ctx, reqCtx, err)
		rerr.Status = resp.StatusCode
		return nil, c.fail(rc, rerr, nil)
	}
	// A response that lands after the budget fired is discarded.
	if context.Cause(reqCtx) == errBudgetExceeded {
		return nil, c.fail(rc, c.timeoutError(), nil)
	}

	return c.classify(rc, resp, raw, wantJSON)
}

func (c *Client) timeoutError() *RequestError {
	return &RequestError{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("no response within %s", c.timeout),
		Err:     context.DeadlineExceeded,
	}
}

// transportFailure tells the internal budget apart from caller cancellation
// and connection errors.
func (c *Client) transportFailure(parent, reqCtx context.Context, err error) *RequestError {
	if context.Cause(reqCtx) == errBudgetExceeded && parent.Err() == nil {
		return c.timeoutError()
	}
	if perr := parent.Err(); perr != nil {
		return &RequestError{Kind: KindTransport, Message: "request cancelled", Err: perr}
	}
	return &RequestError{Kind: KindTransport, Message: "connection failed", Err: err}
}

func (c *Client) classify(rc *requestContext, resp *http.Response, raw []byte, wantJSON bool) (*Result, *RequestError) {
	status := resp.StatusCode
	ok := status >= 200 && status < 300
	contentType := resp.Header.Get("Content-Type")
	isJSON := isJSONMediaType(contentType)

	if !wantJSON {
		if !ok {
			return nil, c.fail(rc, &RequestError{Kind: KindServer, Status: status, Message: "HTTP " + strconv.Itoa(status)}, nil)
		}
		c.succeed(rc, status)
		return &Result{RequestID: rc.id, Status: status, Raw: raw, Duration: time.Since(rc.started)}, nil
	}

	var parsed map[string]any
	parseErr := errors.New("non-JSON content type")
	if isJSON {
		parseErr = json.Unmarshal(raw, &parsed)
	}

	if !ok {
		rerr := &RequestError{Kind: KindServer, Status: status}
		if parseErr == nil {
			rerr.Code = stringField(parsed, "error_code")
			rerr.Message = firstNonEmpty(stringField(parsed, "error_message"), stringField(parsed, "message"))
		}
		if rerr.Message == "" {
			rerr.Message = "HTTP " + strconv.Itoa(status)
		}
		return nil, c.fail(rc, rerr, map[string]any{"response": snippet(raw)})
	}

	if !isJSON {
		return nil, c.fail(rc, &RequestError{
			Kind:    KindProtocol,
			Status:  status,
			Message: fmt.Sprintf("server returned non-JSON response (content type %q)", contentType),
		}, map[string]any{"content_type": contentType, "body": snippet(raw)})
	}
	if parseErr != nil {
		return nil, c.fail(rc, &RequestError{
			Kind:    KindProtocol,
			Status:  status,
			Message: "invalid JSON response from server",
			Err:     parseErr,
		}, map[string]any{"body": snippet(raw)})
	}

	if stringField(parsed, "status") == "error" {
		rerr := &RequestError{
			Kind:    KindServer,
			Status:  status,
			Code:    stringField(parsed, "error_code"),
			Message: firstNonEmpty(stringField(parsed, "error_message"), stringField(parsed, "message"), "server reported an error"),
		}
		return nil, c.fail(rc, rerr, nil)
	}

	c.succeed(rc, status)
	return &Result{
		RequestID: rc.id,
		Status:    status,
		Body:      parsed,
		Raw:       raw,
		Duration:  time.Since(rc.started),
	}, nil
}

func (c *Client) succeed(rc *requestContext, status int) {
	c.journal.Append(journal.LevelInfo, category, "Request successful", rc.fields(map[string]any{"status": status}))
}

// fail fills in the request identity, journals the failure and returns it.
func (c *Client) fail(rc *requestContext, rerr *RequestError, extra map[string]any) *RequestError {
	rerr.RequestID = rc.id
	rerr.Endpoint = rc.endpoint

	fields := rc.fields(extra)
	fields["kind"] = rerr.Kind.String()
	if rerr.Status != 0 {
		fields["status"] = rerr.Status
	}
	if rerr.Code != "" {
		fields["error_code"] = rerr.Code
	}
	if rerr.Message != "" {
		fields["error_message"] = rerr.Message
	}
	if rerr.Err != nil {
		fields["error"] = rerr.Err.Error()
	}

	level, msg := journal.LevelError, "Request error"
	switch rerr.Kind {
	case KindNoConnectivity:
		msg = "No network connectivity"
	case KindTimeout:
		msg = "Request timeout"
		fields["timeout"] = c.timeout.String()
	case KindTransport:
		msg = "Network connection failed"
	case KindProtocol:
		msg = "Unreadable response"
	case KindServer:
		level, msg = journal.LevelWarn, "Request failed"
	}
	c.journal.Append(level, category, msg, fields)
	return rerr
}

func isJSONMediaType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func snippet(raw []byte) string {
	if len(raw) > bodySnippet {
		return string(raw[:bodySnippet])
	}
	return string(raw)
}

// idGenerator issues req_<millis base36><random> ids. The timestamp part
// never repeats or goes backwards within a process.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *idGenerator) next() string {
	ms := time.Now().UnixMilli()
	g.mu.Lock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "req_" + strconv.FormatInt(ms, 36) + suffix
}
