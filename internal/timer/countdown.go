// Package timer provides a cancellable countdown that emits ticks lazily.
package timer

import (
	"sync"
	"time"
)

const defaultInterval = time.Second

// Event is one emission of a countdown. The final event has Done set.
type Event struct {
	Remaining time.Duration
	Elapsed   time.Duration
	Done      bool
}

// Countdown is a single-use ticking clock. It cannot be restarted; start a
// new one for each phase that needs ticking.
type Countdown struct {
	total    time.Duration
	events   chan Event
	stop     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// Start begins a countdown of total length that ticks every interval.
// A non-positive total yields a single Done event.
func Start(total, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = defaultInterval
	}
	c := &Countdown{
		total:    total,
		events:   make(chan Event),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.run(interval)
	return c
}

// Events yields ticks and then a Done event. The channel is closed when the
// countdown ends or is cancelled; a cancelled countdown never emits Done.
func (c *Countdown) Events() <-chan Event {
	return c.events
}

// Total is the configured countdown length.
func (c *Countdown) Total() time.Duration {
	return c.total
}

// Cancel stops emission. No event is delivered after Cancel returns.
// Safe to call more than once and after the countdown finished.
func (c *Countdown) Cancel() {
	c.once.Do(func() { close(c.stop) })
	<-c.finished
}

// Finished is closed once the countdown goroutine has exited.
func (c *Countdown) Finished() <-chan struct{} {
	return c.finished
}

func (c *Countdown) run(interval time.Duration) {
	defer close(c.finished)
	defer close(c.events)

	if c.total <= 0 {
		c.emit(Event{Done: true})
		return
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.total)
	defer deadline.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-deadline.C:
			c.emit(Event{Elapsed: c.total, Done: true})
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed >= c.total {
				continue
			}
			if !c.emit(Event{Remaining: c.total - elapsed, Elapsed: elapsed}) {
				return
			}
		}
	}
}

func (c *Countdown) emit(ev Event) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}
