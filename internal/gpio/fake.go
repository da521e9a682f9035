package gpio

import "sync"

// Call is one recorded Apply.
type Call struct {
	Index int
	Open  bool
}

// FakeDriver is a test double that records every Apply call.
type FakeDriver struct {
	mu sync.Mutex

	// Calls contains every successful Apply in order.
	Calls []Call

	// ApplyError, if set, is returned by Apply and nothing is recorded.
	ApplyError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Apply records the call.
func (f *FakeDriver) Apply(index int, open bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ApplyError != nil {
		return f.ApplyError
	}
	f.Calls = append(f.Calls, Call{Index: index, Open: open})
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Recorded returns a copy of the recorded calls.
func (f *FakeDriver) Recorded() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Call, len(f.Calls))
	copy(out, f.Calls)
	return out
}

// Reset clears recorded calls and errors.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	f.Calls = nil
	f.ApplyError = nil
	f.Closed = false
	f.mu.Unlock()
}
