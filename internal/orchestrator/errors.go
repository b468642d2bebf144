package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies why a request failed. Kinds are never merged: callers
// decide on messaging and retry per kind.
type Kind int

const (
	// KindNoConnectivity: the device reported no network; nothing was sent.
	KindNoConnectivity Kind = iota + 1
	// KindTimeout: the request budget elapsed before a response.
	KindTimeout
	// KindTransport: the connection failed before any HTTP response.
	KindTransport
	// KindProtocol: a response arrived but was not structured JSON.
	KindProtocol
	// KindServer: a well-formed response reported failure.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNoConnectivity:
		return "NoConnectivity"
	case KindTimeout:
		return "Timeout"
	case KindTransport:
		return "TransportError"
	case KindProtocol:
		return "ProtocolError"
	case KindServer:
		return "ServerError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RequestError is returned by every failed call.
type RequestError struct {
	Kind      Kind
	RequestID string
	Endpoint  string
	// Status is the HTTP status when a response was received.
	Status int
	// Code and Message come from the server's error_code and error_message.
	Code    string
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s (request %s, status %d): %s", e.Kind, e.Endpoint, e.RequestID, e.Status, msg)
	}
	return fmt.Sprintf("%s %s (request %s): %s", e.Kind, e.Endpoint, e.RequestID, msg)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is matches any *RequestError of the same kind, so
// errors.Is(err, ErrTimeout) works on wrapped errors.
func (e *RequestError) Is(target error) bool {
	if t, ok := target.(*RequestError); ok {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrNoConnectivity = &RequestError{Kind: KindNoConnectivity}
	ErrTimeout        = &RequestError{Kind: KindTimeout}
	ErrTransport      = &RequestError{Kind: KindTransport}
	ErrProtocol       = &RequestError{Kind: KindProtocol}
	ErrServer         = &RequestError{Kind: KindServer}
)

// KindOf returns the kind of err, or 0 when err is not a RequestError.
func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// ErrUnknownRequestType is returned by Send for a type with no endpoint.
var ErrUnknownRequestType = errors.New("unknown request type")
