package controller

import (
	"fmt"

	"github.com/lexiqai/speech-coach/internal/backend"
	"github.com/lexiqai/speech-coach/internal/stats"
)

// Mode is the recording state of the controller
type Mode int

const (
	Idle Mode = iota
	Starting
	Recording
	Stopping
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText renders the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// View is what the presentation layer sees. Version increases with every
// change, so consumers can drop views that arrive out of order.
type View struct {
	Version     uint64                 `json:"version"`
	Mode        Mode                   `json:"mode"`
	SessionID   string                 `json:"session_id,omitempty"`
	Transcript  string                 `json:"transcript"`
	FinalText   string                 `json:"final_text"`
	InterimText string                 `json:"interim_text"`
	Stats       stats.Snapshot         `json:"live_stats"`
	Analysis    *backend.FinalAnalysis `json:"analysis,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Warning     string                 `json:"warning,omitempty"`
}

// Observer is called with every new View, outside the controller's lock
type Observer func(View)
