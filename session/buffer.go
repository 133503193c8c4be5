// Package session coordinates per-conversation state: message history, the
// single live stream, and extraction results.
package session

import "strings"

// ContentBuffer accumulates raw text deltas into one growing string. It does
// no parsing; it exists to give the extractor a stable string to re-scan
// cheaply after every delta.
type ContentBuffer struct {
	b         strings.Builder
	finalized bool
}

// Append concatenates text onto the running buffer. Appends after Finalize
// are dropped.
func (b *ContentBuffer) Append(text string) {
	if b.finalized {
		return
	}
	b.b.WriteString(text)
}

// Snapshot returns the current full text.
func (b *ContentBuffer) Snapshot() string {
	return b.b.String()
}

// Finalize marks the buffer immutable.
func (b *ContentBuffer) Finalize() {
	b.finalized = true
}

// Finalized reports whether the buffer has been finalized.
func (b *ContentBuffer) Finalized() bool {
	return b.finalized
}
