// Package stats holds the live coaching metrics of the active recording.
package stats

import "sync/atomic"

// Snapshot is an immutable set of live metrics
type Snapshot struct {
	Fluency      float64 `json:"fluency"`
	Volume       float64 `json:"volume"`
	Articulation float64 `json:"articulation"`
	Clarity      float64 `json:"clarity"`
	FillerWords  float64 `json:"filler_words"`
	SpeakingRate float64 `json:"speaking_rate"`
	Confidence   float64 `json:"confidence"`
}

// Update carries the metrics present in one backend response. Nil fields
// were absent and leave the previous value in place.
type Update struct {
	Fluency      *float64 `json:"fluency,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	Articulation *float64 `json:"articulation,omitempty"`
	Clarity      *float64 `json:"clarity,omitempty"`
	FillerWords  *float64 `json:"filler_words,omitempty"`
	SpeakingRate *float64 `json:"speaking_rate,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Empty reports whether u carries no metric
func (u Update) Empty() bool {
	return u.Fluency == nil && u.Volume == nil && u.Articulation == nil &&
		u.Clarity == nil && u.FillerWords == nil && u.SpeakingRate == nil &&
		u.Confidence == nil
}

// Merge returns s with every metric present in u replaced
func (s Snapshot) Merge(u Update) Snapshot {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.Fluency, u.Fluency)
	set(&s.Volume, u.Volume)
	set(&s.Articulation, u.Articulation)
	set(&s.Clarity, u.Clarity)
	set(&s.FillerWords, u.FillerWords)
	set(&s.SpeakingRate, u.SpeakingRate)
	set(&s.Confidence, u.Confidence)
	return s
}

// Value returns a pointer to v, for building updates
func Value(v float64) *float64 {
	return &v
}

// Board publishes the current Snapshot. Readers always see a whole snapshot;
// writers replace it atomically.
type Board struct {
	current atomic.Pointer[Snapshot]
}

// NewBoard returns a board holding the zero snapshot
func NewBoard() *Board {
	b := &Board{}
	b.current.Store(&Snapshot{})
	return b
}

// Load returns the current snapshot
func (b *Board) Load() Snapshot {
	return *b.current.Load()
}

// Apply merges u into the current snapshot and returns the result
func (b *Board) Apply(u Update) Snapshot {
	for {
		old := b.current.Load()
		next := old.Merge(u)
		if b.current.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Reset restores the zero snapshot
func (b *Board) Reset() {
	b.current.Store(&Snapshot{})
}
