// Package apperror defines the error taxonomy shared by the ingestion, capture and
// recognition layers and its mapping to client-facing HTTP responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure by who can act on it
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindDecode
	KindModel
	KindDevice
	KindTimeout
)

// maxClientMessage bounds the diagnostic text returned to clients
const maxClientMessage = 200

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input_error"
	case KindDecode:
		return "decode_error"
	case KindModel:
		return "model_error"
	case KindDevice:
		return "device_error"
	case KindTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the response status code for the kind
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Input wraps a user-correctable request problem
func Input(op string, err error) *Error { return New(KindInput, op, err) }

// Decode wraps an exhausted decode chain
func Decode(op string, err error) *Error { return New(KindDecode, op, err) }

// Model wraps a recognition failure
func Model(op string, err error) *Error { return New(KindModel, op, err) }

// Device wraps a missing or failing capture device
func Device(op string, err error) *Error { return New(KindDevice, op, err) }

// Timeout wraps a deadline expiry
func Timeout(op string, err error) *Error { return New(KindTimeout, op, err) }

// KindOf returns the kind of the outermost classified error in the chain
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// ClientMessage renders an error for API clients: a fixed prefix per kind followed by the
// first line of the underlying message, bounded in length.
func ClientMessage(err error) string {
	if err == nil {
		return ""
	}

	var prefix string
	switch KindOf(err) {
	case KindInput:
		prefix = "invalid request"
	case KindDecode:
		prefix = "could not decode audio"
	case KindModel:
		prefix = "transcription failed"
	case KindDevice:
		prefix = "audio input device unavailable"
	case KindTimeout:
		prefix = "processing timed out"
	default:
		return "internal error"
	}

	detail := Sanitize(rootMessage(err))
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}

// Sanitize keeps the first line of msg and truncates it
func Sanitize(msg string) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	if len(msg) > maxClientMessage {
		msg = msg[:maxClientMessage] + "..."
	}
	return msg
}

// rootMessage skips the Op prefix of the classified error
func rootMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err.Error()
	}
	return err.Error()
}
