// Package timectrl drives a fixed-interval feed clock. It is used by
// the synthetic sample generator to step peers and publish on a
// steady tick; the tracking service itself is purely push-driven and
// does not use it.
package timectrl

import (
	"sync"
	"time"
)

// Clock exposes the current feed time.
type Clock interface {
	Now() time.Time
}

// Controller advances feed time by Tick and notifies listeners.
type Controller struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration

	currentTime time.Time
	listeners   []func(time.Time)
}

// New constructs a controller starting at start.
func New(start time.Time, tick time.Duration) *Controller {
	return &Controller{
		StartTime:   start,
		Tick:        tick,
		currentTime: start,
	}
}

// Now returns the current feed time. Implements Clock.
func (c *Controller) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// AddListener registers a callback invoked on every tick. Listeners
// must be registered before Start.
func (c *Controller) AddListener(fn func(time.Time)) {
	c.listeners = append(c.listeners, fn)
}

// Start runs the controller for the specified duration in a separate
// goroutine; a non-positive duration runs until the process exits. It
// returns a channel that is closed when the controller finishes.
func (c *Controller) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		c.mu.Lock()
		now := c.StartTime
		c.currentTime = now
		c.mu.Unlock()

		elapsed := time.Duration(0)
		ticker := time.NewTicker(c.Tick)
		defer ticker.Stop()

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			<-ticker.C
			now = now.Add(c.Tick)
			elapsed += c.Tick

			c.mu.Lock()
			c.currentTime = now
			c.mu.Unlock()

			for _, fn := range c.listeners {
				fn(now)
			}
		}
	}()
	return done
}
