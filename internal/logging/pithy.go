package logging

import (
	"strconv"
	"sync"
	"time"
)

// PithyPrinter rate-limits a named counter to one summary line per stage
// period, instead of logging every single event. Used for QueueOverflow
// and similar high-frequency internal events (see glossary: "Pithy print").
type PithyPrinter struct {
	mu      sync.Mutex
	stage   time.Duration
	last    time.Time
	count   uint64
	sinceOk bool
}

// NewPithyPrinter creates a printer with the given stage period.
// A zero or negative period defaults to 10 seconds.
func NewPithyPrinter(stage time.Duration) *PithyPrinter {
	if stage <= 0 {
		stage = 10 * time.Second
	}
	return &PithyPrinter{stage: stage}
}

// Count registers one occurrence of the event and, if the stage period has
// elapsed since the last printed summary, emits a summary line via emit.
func (p *PithyPrinter) Count(label string, emit func(count uint64, elapsed time.Duration)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++

	now := time.Now()
	if !p.sinceOk {
		p.last = now
		p.sinceOk = true
		return
	}

	elapsed := now.Sub(p.last)
	if elapsed < p.stage {
		return
	}

	count := p.count
	p.count = 0
	p.last = now

	if emit != nil {
		emit(count, elapsed)
	} else {
		line("[" + label + "] " + strconv.FormatUint(count, 10) + " events in " + elapsed.String())
	}
}
