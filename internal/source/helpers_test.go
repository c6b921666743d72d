package source

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/icrawler/internal/ingest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// recordingOutlet collects pushed messages. full and onPush let tests
// simulate a saturated queue or a crash.
type recordingOutlet struct {
	mu     sync.Mutex
	pushed []*ingest.Record
	full   func() bool
	onPush func(n int)
}

func (o *recordingOutlet) Push(_ context.Context, msg *ingest.Record) error {
	o.mu.Lock()
	o.pushed = append(o.pushed, msg)
	n := len(o.pushed)
	o.mu.Unlock()
	if o.onPush != nil {
		o.onPush(n)
	}
	return nil
}

func (o *recordingOutlet) Full() bool {
	if o.full == nil {
		return false
	}
	return o.full()
}

func (o *recordingOutlet) messages() []*ingest.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*ingest.Record(nil), o.pushed...)
}

func fastOptions() Options {
	return Options{
		Capacity:             100,
		BackpressureInterval: time.Millisecond,
		ErrorInterval:        time.Millisecond,
		FetchErrorInterval:   time.Millisecond,
		PassInterval:         time.Millisecond,
		WindowInterval:       time.Millisecond,
		EmptyInterval:        time.Millisecond,
		PollInterval:         time.Millisecond,
		MarkInterval:         time.Millisecond,
	}
}
