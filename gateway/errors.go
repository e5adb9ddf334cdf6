package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized matches responses that rejected the credential (401).
	ErrUnauthorized = errors.New("credential rejected")
	// ErrForbidden matches access-denied responses (403).
	ErrForbidden = errors.New("access denied")
	// ErrServer matches 5xx responses.
	ErrServer = errors.New("backend fault")
	// ErrTransport matches calls that received no response at all.
	ErrTransport = errors.New("transport fault")
	// ErrRejected matches any other non-2xx response (validation and business failures).
	ErrRejected = errors.New("request rejected")
	// ErrDecode matches 2xx responses whose body could not be decoded.
	ErrDecode = errors.New("response decode failed")
)

// Kind classifies the outcome of a gateway call.
type Kind uint8

const (
	// KindNone is a successful (2xx) outcome.
	KindNone Kind = iota
	KindRequest
	KindUnauthorized
	KindForbidden
	KindServer
	KindTransport
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindRequest:
		return "rejected"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindServer:
		return "server_error"
	case KindTransport:
		return "transport_error"
	case KindDecode:
		return "decode_error"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRequest:
		return ErrRejected
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindServer:
		return ErrServer
	case KindTransport:
		return ErrTransport
	case KindDecode:
		return ErrDecode
	default:
		return nil
	}
}

// Error is returned for every failed gateway call.
type Error struct {
	Kind      Kind
	Status    int
	Method    string
	Path      string
	RequestID string
	// Detail is the human-readable message from the backend error payload, if any.
	Detail string
	Err    error
	// Handled is set when the gateway already reacted to the failure: a notification
	// was emitted or a forced logout ran.
	Handled bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	b.WriteByte(' ')
	b.WriteString(e.Path)
	b.WriteString(": ")
	if e.Status != 0 {
		fmt.Fprintf(&b, "%d ", e.Status)
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of a gateway error, or KindNone when err is not one.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindNone
}

// Detail returns the backend-provided message carried by err, or "".
func Detail(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Detail
	}
	return ""
}

// Handled reports whether the gateway already surfaced or reacted to err.
func Handled(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Handled
	}
	return false
}

type errorPayload struct {
	Detail json.RawMessage `json:"detail"`
}

type validationItem struct {
	Msg string `json:"msg"`
}

// parseDetail extracts the "detail" field of an error body. FastAPI validation errors
// carry a list of {msg} objects; their messages are joined.
func parseDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil || len(p.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(p.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var items []validationItem
	if err := json.Unmarshal(p.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if m := strings.TrimSpace(it.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
