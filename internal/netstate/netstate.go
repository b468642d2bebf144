// Package netstate turns a platform connectivity signal into a point-in-time
// query and a stream of transitions.
package netstate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport is the kind of link carrying traffic.
type Transport string

const (
	TransportWiFi     Transport = "wifi"
	TransportCellular Transport = "cellular"
	TransportEthernet Transport = "ethernet"
	TransportNone     Transport = "none"
	TransportUnknown  Transport = "unknown"
)

// State is one connectivity observation.
type State struct {
	Connected bool      `json:"is_connected"`
	Transport Transport `json:"transport_kind"`
}

// Disconnected is reported whenever the source cannot be read.
var Disconnected = State{Connected: false, Transport: TransportNone}

// Source reads the current connectivity of the device.
type Source interface {
	Current(ctx context.Context) (State, error)
}

// Subscription is returned by Subscribe.
type Subscription interface {
	// Unsubscribe permanently stops delivery to the callback: no call
	// starts after it returns. A call already running on another goroutine
	// may still be finishing. It is safe to call more than once and from
	// inside the callback.
	Unsubscribe()
}

// Observer is safe for concurrent use.
type Observer struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	last   State
	seen   bool

	// pending holds transitions not yet delivered. Only the goroutine that
	// set dispatching drains it, so every subscriber sees transitions in
	// the order they were observed.
	pending     []State
	dispatching bool
}

// Option configures an Observer.
type Option func(*Observer)

// WithInterval sets the poll interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger for source errors and callback panics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// DefaultInterval is the Run poll interval.
const DefaultInterval = 5 * time.Second

// New returns an Observer reading source. Nothing is polled until Run.
func New(source Source, opts ...Option) *Observer {
	o := &Observer{
		source:   source,
		interval: DefaultInterval,
		logger:   slog.Default(),
		subs:     make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Current queries the source. Errors are logged and reported as
// Disconnected.
func (o *Observer) Current(ctx context.Context) State {
	st, err := o.source.Current(ctx)
	if err != nil {
		o.logger.Warn("netstate: connectivity query failed", "error", err)
		return Disconnected
	}
	return st
}

// IsConnected reports whether the device currently has a usable link.
func (o *Observer) IsConnected(ctx context.Context) bool {
	return o.Current(ctx).Connected
}

type subscription struct {
	o  *Observer
	id uint64
	fn func(State)
	// active is guarded by o.mu.
	active bool
}

func (s *subscription) Unsubscribe() {
	s.o.mu.Lock()
	s.active = false
	delete(s.o.subs, s.id)
	s.o.mu.Unlock()
}

// Subscribe registers fn for every observed transition.
func (o *Observer) Subscribe(fn func(State)) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	s := &subscription{o: o, id: o.nextID, fn: fn, active: true}
	o.subs[s.id] = s
	return s
}

// Observe records a new observation and notifies subscribers when it differs
// from the previous one. It returns whether the observation was a
// transition. A transition observed while another is being delivered,
// including from inside a callback, is queued behind it.
func (o *Observer) Observe(st State) bool {
	o.mu.Lock()
	if o.seen && o.last == st {
		o.mu.Unlock()
		return false
	}
	o.last, o.seen = st, true
	o.pending = append(o.pending, st)
	if o.dispatching {
		o.mu.Unlock()
		return true
	}
	o.dispatching = true
	o.dispatch()
	o.dispatching = false
	o.mu.Unlock()
	return true
}

// dispatch drains pending. It is entered and left with o.mu held and
// releases it around each callback.
func (o *Observer) dispatch() {
	for len(o.pending) > 0 {
		st := o.pending[0]
		o.pending = o.pending[1:]
		targets := make([]*subscription, 0, len(o.subs))
		for _, s := range o.subs {
			targets = append(targets, s)
		}
		for _, s := range targets {
			if !s.active {
				continue
			}
			o.mu.Unlock()
			o.call(s, st)
			o.mu.Lock()
		}
	}
}

func (o *Observer) call(s *subscription, st State) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("netstate: subscriber panicked", "panic", r)
		}
	}()
	s.fn(st)
}

// Last returns the most recent observation and whether one was made.
func (o *Observer) Last() (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.seen
}

// Run polls the source until ctx is done, feeding each reading to Observe.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		o.Observe(o.Current(ctx))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
