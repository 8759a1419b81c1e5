package led

import "sync"

// FakeIndicator records every value it is set to.
type FakeIndicator struct {
	mu     sync.Mutex
	values []bool
	closed bool

	// SetError, if set, is returned by Set after recording the value.
	SetError error
}

// NewFakeIndicator creates an unlit FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records on.
func (f *FakeIndicator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, on)
	return f.SetError
}

// Close marks the indicator closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Values returns every value set so far.
func (f *FakeIndicator) Values() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.values...)
}

// Lit reports the last value set.
func (f *FakeIndicator) Lit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values) > 0 && f.values[len(f.values)-1]
}

// Closed reports whether Close was called.
func (f *FakeIndicator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
