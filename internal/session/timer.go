package session

import (
	"context"
	"time"

	"github.com/stemsi/exstem-portal/internal/model"
)

// StartCountdown starts the ticker goroutine that drives Tick. It ticks once
// immediately, so a session restored after its deadline submits right away.
// The countdown ends when ctx is cancelled, the exam is submitted, or Close is
// called.
func (c *Controller) StartCountdown(ctx context.Context) error {
	if c.Status() != model.SessionStatusInProgress {
		return ErrNotInProgress
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timerCancel != nil {
		return ErrTimerRunning
	}

	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.timerCancel = cancel
	c.timerDone = done

	go c.runCountdown(tctx, done)
	return nil
}

func (c *Controller) runCountdown(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	c.log.Debug().Dur("interval", c.tickInterval).Msg("Countdown started")
	c.Tick(ctx)

	for {
		if c.Status() == model.SessionStatusSubmitted {
			return
		}
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("Countdown stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// stopCountdown cancels the ticker without waiting for it, so the countdown
// goroutine itself may call it.
func (c *Controller) stopCountdown() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
}

// Close stops the countdown, waits for it to exit and closes every subscriber
// channel. The cache entry is left in place so the attempt can be resumed.
func (c *Controller) Close() {
	c.timerMu.Lock()
	cancel, done := c.timerCancel, c.timerDone
	c.timerCancel = nil
	c.timerDone = nil
	c.timerMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// Subscribe registers for session events. Slow subscribers miss events rather
// than block the session. The returned func unsubscribes.
func (c *Controller) Subscribe(buffer int) (<-chan model.SessionEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.SessionEvent, buffer)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

func (c *Controller) publish(ev model.SessionEvent) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
