// Package stt provides the continuous speech recognition capability.
package stt

import "github.com/lexiqai/speech-coach/internal/apperr"

// EventKind identifies what a recognition event reports
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventError
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	}
	return "unknown"
}

// Event is one notification from a recognizer
type Event struct {
	Kind EventKind
	// Text is set for interim and final results
	Text string
	// Code and Detail are set for errors
	Code   apperr.CapabilityCode
	Detail string
}
