package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a controllable Clock for tests. Sleep returns immediately;
// callers that need to assert sleep durations read Slept.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	Slept []time.Duration
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) {
	f.mu.Lock()
	f.Slept = append(f.Slept, d)
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
