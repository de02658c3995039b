package transcript

// Deduplicator remembers the last segment forwarded for analysis so a
// segment reported twice in a row is only sent once.
type Deduplicator struct {
	last string
	seen bool
}

// ShouldForward reports whether segment differs from the last one forwarded
// and, if so, records it.
func (d *Deduplicator) ShouldForward(segment string) bool {
	if d.seen && segment == d.last {
		return false
	}
	d.last = segment
	d.seen = true
	return true
}

// Reset forgets the last forwarded segment
func (d *Deduplicator) Reset() {
	d.last = ""
	d.seen = false
}
