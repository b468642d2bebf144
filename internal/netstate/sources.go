package netstate

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// InterfaceSource reports connectivity from the host's network interfaces:
// connected when any non-loopback interface is up with an address.
type InterfaceSource struct{}

func (InterfaceSource) Current(context.Context) (State, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Disconnected, err
	}
	best := Disconnected
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		kind := ClassifyInterface(ifc.Name)
		if !best.Connected || rank(kind) < rank(best.Transport) {
			best = State{Connected: true, Transport: kind}
		}
	}
	return best, nil
}

// ClassifyInterface guesses the transport of an interface from its name.
func ClassifyInterface(name string) Transport {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wifi"), strings.HasPrefix(n, "ath"):
		return TransportWiFi
	case strings.HasPrefix(n, "rmnet"), strings.HasPrefix(n, "wwan"), strings.HasPrefix(n, "ccmni"), strings.HasPrefix(n, "pdp_ip"):
		return TransportCellular
	case strings.HasPrefix(n, "eth"), strings.HasPrefix(n, "en"):
		return TransportEthernet
	default:
		return TransportUnknown
	}
}

// rank orders transports by preference when several links are up.
func rank(t Transport) int {
	switch t {
	case TransportEthernet:
		return 0
	case TransportWiFi:
		return 1
	case TransportCellular:
		return 2
	case TransportUnknown:
		return 3
	default:
		return 4
	}
}

// DialSource reports connectivity as TCP reachability of an address. The
// address is resolved on every call so it can follow the settings.
type DialSource struct {
	Address func(ctx context.Context) string
	Timeout time.Duration
	// Transport is reported when the dial succeeds.
	Transport Transport
}

func (d DialSource) Current(ctx context.Context) (State, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address(ctx))
	if err != nil {
		return Disconnected, err
	}
	conn.Close()
	kind := d.Transport
	if kind == "" {
		kind = TransportUnknown
	}
	return State{Connected: true, Transport: kind}, nil
}

// StaticSource reports a fixed state that can be changed with Set.
type StaticSource struct {
	mu    sync.Mutex
	state State
	err   error
}

// NewStaticSource returns a source reporting st.
func NewStaticSource(st State) *StaticSource {
	return &StaticSource{state: st}
}

// Set changes the reported state and clears any error.
func (s *StaticSource) Set(st State) {
	s.mu.Lock()
	s.state, s.err = st, nil
	s.mu.Unlock()
}

// Fail makes Current return err until the next Set.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StaticSource) Current(context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Disconnected, s.err
	}
	return s.state, nil
}
