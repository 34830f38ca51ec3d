package apc

import "context"

// FakeSource is a test double for Source.
//
// Single-report mode: pre-seed Text; every Fetch() returns it.
// Sequence mode: pre-seed Sequence; each Fetch() returns the next element.
// When the sequence is exhausted the last element is repeated, simulating a
// steady post-event state.  Set Err to inject a failure on every call.
type FakeSource struct {
	Text      string   // returned when Sequence is nil/empty
	Sequence  []string // each Fetch() advances through this list
	Err       error
	CallCount int
	Closed    bool
}

// Fetch returns the pre-seeded report for the current call index,
// or Err if set.
func (f *FakeSource) Fetch(context.Context) (string, error) {
	f.CallCount++
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Sequence) > 0 {
		idx := f.CallCount - 1
		if idx >= len(f.Sequence) {
			idx = len(f.Sequence) - 1 // repeat last element
		}
		return f.Sequence[idx], nil
	}
	return f.Text, nil
}

// Close records that the source was closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset clears all state so the fake can be reused between sub-tests.
func (f *FakeSource) Reset() {
	f.Text = ""
	f.Sequence = nil
	f.Err = nil
	f.CallCount = 0
	f.Closed = false
}
