package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexiqai/speech-coach/internal/stats"
)

// FinalAnalysis is the end-of-session coaching summary returned on stop
type FinalAnalysis struct {
	OverallScore  float64  `json:"overall_score"`
	Observations  []string `json:"observations,omitempty"`
	Improvements  []string `json:"improvements,omitempty"`
	Strengths     []string `json:"strengths,omitempty"`
	QuickTip      string   `json:"quick_tip,omitempty"`
	ProgressNotes string   `json:"progress_notes,omitempty"`
	// Error is set when the backend fell back to a canned analysis
	Error string `json:"error,omitempty"`
}

// UnmarshalJSON accepts the loose shapes the analysis model produces: a
// score sent as a string and note lists sent as a single string.
func (a *FinalAnalysis) UnmarshalJSON(data []byte) error {
	type plain FinalAnalysis
	var wire struct {
		plain
		OverallScore json.RawMessage `json:"overall_score"`
		Observations json.RawMessage `json:"observations"`
		Improvements json.RawMessage `json:"improvements"`
		Strengths    json.RawMessage `json:"strengths"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*a = FinalAnalysis(wire.plain)
	a.OverallScore = looseScore(wire.OverallScore)
	a.Observations = looseNotes(wire.Observations)
	a.Improvements = looseNotes(wire.Improvements)
	a.Strengths = looseNotes(wire.Strengths)
	return nil
}

// looseScore reads a number or a numeric string such as "8" or "7.5/10".
// Anything else scores zero.
func looseScore(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if _, err := fmt.Sscanf(s, "%g", &n); err == nil {
		return n
	}
	return 0
}

// looseNotes reads a list of strings, a single string, or a list of mixed
// scalars. Blank entries are dropped.
func looseNotes(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var notes []string
	for _, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err != nil {
			text = string(item)
		}
		if text = strings.TrimSpace(text); text != "" && text != "null" {
			notes = append(notes, text)
		}
	}
	return notes
}

// AudioPost is one submission to the audio endpoint: a PCM chunk, a final
// transcript segment, or both.
type AudioPost struct {
	PCM       []byte
	TextChunk string
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

type statsResponse struct {
	LiveStats *stats.Update `json:"live_stats,omitempty"`
}

type stopResponse struct {
	Analysis *FinalAnalysis `json:"analysis,omitempty"`
}

type audioRequest struct {
	AudioData string `json:"audio_data"`
	TextChunk string `json:"text_chunk"`
}
