// Package apperr defines the error taxonomy shared by the capture, backend
// and controller layers.
//
// Every failure surfaced by this client is an *Error with one of four kinds:
// Permission (microphone or recognition denied), Session (a lifecycle call
// failed), Transport (a network call failed) and Capability (the recognition
// engine reported a non-benign error). Errors wrap their cause, so a Session
// error raised because the network was down answers true to both
// IsKind(err, KindSession) and IsKind(err, KindTransport).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermission
	KindSession
	KindTransport
	KindCapability
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindSession:
		return "session"
	case KindTransport:
		return "transport"
	case KindCapability:
		return "capability"
	default:
		return "unknown"
	}
}

// CapabilityCode identifies what the recognition engine reported.
type CapabilityCode string

const (
	CodePermissionDenied CapabilityCode = "permission_denied"
	CodeNoSpeech         CapabilityCode = "no_speech"
	CodeNetwork          CapabilityCode = "network"
	CodeUnknown          CapabilityCode = "unknown"
)

// Error is the structured error type for the client.
type Error struct {
	Kind Kind
	// Op is the operation that failed ("create", "start", "poll", "microphone" ...).
	Op string
	// Code is set for capability errors.
	Code CapabilityCode
	// Detail is the raw code or message reported by an external system.
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s", e.Op, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Permission creates a permission error (mic or recognition denied).
func Permission(op string, err error) *Error {
	return &Error{Kind: KindPermission, Op: op, Code: CodePermissionDenied, Err: err}
}

// Session creates a lifecycle error for op.
func Session(op string, err error) *Error {
	return &Error{Kind: KindSession, Op: op, Err: err}
}

// Transport creates a network error for op.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Capability creates a recognition engine error.
func Capability(code CapabilityCode, detail string) *Error {
	if code == CodePermissionDenied {
		return &Error{Kind: KindPermission, Op: "recognition", Code: code, Detail: detail}
	}
	return &Error{Kind: KindCapability, Op: "recognition", Code: code, Detail: detail}
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// CodeOf returns the first capability code found in err's chain.
func CodeOf(err error) CapabilityCode {
	var e *Error
	for err != nil && errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		err = e.Err
	}
	return ""
}

// UserMessage renders the text shown to the user for an actionable error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindPermission:
		return "Microphone or speech recognition access was denied. Allow access and try again."
	case KindSession:
		switch e.Op {
		case "create":
			return "Could not create a coaching session. Check your connection and try again."
		case "start":
			return "Could not start recording on the coaching server."
		case "stop":
			return "Recording stopped, but the final analysis could not be retrieved."
		case "delete":
			return "The session could not be removed from the coaching server."
		}
		return "The coaching session failed: " + e.Op
	case KindTransport:
		return "Network problem while talking to the coaching server."
	case KindCapability:
		code := CodeOf(err)
		if code == CodeNetwork {
			return "Speech recognition lost its network connection; retrying."
		}
		return "Speech recognition reported a problem: " + string(code)
	}
	return err.Error()
}
