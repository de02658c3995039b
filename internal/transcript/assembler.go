// Package transcript turns ordered recognition results into the live
// transcript and decides which committed segments are worth forwarding.
package transcript

import "strings"

// Kind distinguishes revisable results from committed ones
type Kind int

const (
	Interim Kind = iota
	Final
)

func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "interim"
}

// Assembler holds the committed transcript and the current interim guess.
// It is not safe for concurrent use; the owner serializes calls.
type Assembler struct {
	final   strings.Builder
	interim string
}

// Apply folds one recognition result into the transcript. For a Final result
// it returns the committed segment and true. Results must be applied in the
// order the recognizer produced them.
func (a *Assembler) Apply(kind Kind, text string) (string, bool) {
	if kind == Interim {
		a.interim = text
		return "", false
	}

	a.interim = ""
	segment := strings.TrimSpace(text)
	if segment == "" {
		return "", false
	}
	a.final.WriteString(segment)
	a.final.WriteByte(' ')
	return segment, true
}

// Current returns the committed text followed by the interim guess
func (a *Assembler) Current() string {
	return a.final.String() + a.interim
}

// FinalText returns the committed text only
func (a *Assembler) FinalText() string {
	return a.final.String()
}

// InterimText returns the latest unconfirmed guess
func (a *Assembler) InterimText() string {
	return a.interim
}

// DropInterim discards the interim guess without committing it
func (a *Assembler) DropInterim() {
	a.interim = ""
}

// Reset empties the transcript
func (a *Assembler) Reset() {
	a.final.Reset()
	a.interim = ""
}
