package container

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Advance runs exactly one tick synchronously. Only a RUNNING container
// ticks.
func (c *Container) Advance() error {
	if err := c.requireRunning("advance"); err != nil {
		return err
	}
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	return c.runTick()
}

// AdvanceBy runs n ticks back to back.
func (c *Container) AdvanceBy(n int) error {
	if n < 1 {
		return fmt.Errorf("advance count must be at least 1, got %d", n)
	}
	for i := 0; i < n; i++ {
		if err := c.Advance(); err != nil {
			return fmt.Errorf("tick %d of %d: %w", i+1, n, err)
		}
	}
	return nil
}

// Play starts fixed-period auto-advance on a dedicated goroutine. While the
// container is paused the schedule keeps firing but ticks are skipped.
func (c *Container) Play(interval time.Duration) error {
	if err := c.requireRunning("play"); err != nil {
		return err
	}
	if interval < time.Millisecond {
		return fmt.Errorf("play interval must be at least 1ms, got %s", interval)
	}
	c.playMu.Lock()
	defer c.playMu.Unlock()
	if c.playing {
		return ErrAlreadyPlaying
	}
	c.playing = true
	c.interval = interval
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.playLoop(interval, c.stopCh, c.doneCh)
	c.log.Info("auto advance started",
		zap.String("container", c.id),
		zap.Duration("interval", interval))
	return nil
}

func (c *Container) playLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if c.State() != Running {
				continue
			}
			c.tickMu.Lock()
			err := c.runTick()
			c.tickMu.Unlock()
			if err != nil {
				c.log.Error("tick failed",
					zap.String("container", c.id),
					zap.Uint64("tick", c.tick.Load()),
					zap.Error(err))
			}
		}
	}
}

// StopPlay halts auto-advance and joins the loop, so no tick is in flight
// when it returns. An in-progress tick completes; it is never aborted.
// Idempotent.
func (c *Container) StopPlay() {
	c.playMu.Lock()
	if !c.playing {
		c.playMu.Unlock()
		return
	}
	c.playing = false
	close(c.stopCh)
	done := c.doneCh
	c.playMu.Unlock()

	<-done
	c.failWaiters(ErrNotPlaying)
	c.log.Info("auto advance stopped",
		zap.String("container", c.id),
		zap.Uint64("tick", c.tick.Load()))
}

// IsPlaying reports whether auto-advance is active.
func (c *Container) IsPlaying() bool {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	return c.playing
}

// Interval is the auto-advance period of the current or most recent play.
func (c *Container) Interval() time.Duration {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	return c.interval
}

// CurrentTick is the last committed tick number.
func (c *Container) CurrentTick() uint64 {
	return c.tick.Load()
}

type tickWaiter struct {
	target uint64
	ch     chan error
}

// WaitForTick blocks until the tick counter reaches target. A target already
// reached returns immediately; otherwise auto-advance must be active, and
// stopping it fails the wait rather than leaving the caller hanging. The
// context bounds the wait.
func (c *Container) WaitForTick(ctx context.Context, target uint64) error {
	if c.tick.Load() >= target {
		return nil
	}
	if !c.IsPlaying() {
		return ErrNotPlaying
	}
	w := &tickWaiter{target: target, ch: make(chan error, 1)}
	c.waitMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waitMu.Unlock()
	// The tick may have advanced between the check and the registration.
	if c.tick.Load() >= target {
		c.removeWaiter(w)
		return nil
	}
	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		c.removeWaiter(w)
		return ctx.Err()
	}
}

func (c *Container) notifyWaiters(tick uint64) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if tick >= w.target {
			w.ch <- nil
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *Container) failWaiters(err error) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for _, w := range c.waiters {
		w.ch <- err
	}
	c.waiters = nil
}

func (c *Container) removeWaiter(w *tickWaiter) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for i, v := range c.waiters {
		if v == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Container) requireRunning(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return fmt.Errorf("%w: %s requires %s, container is %s", ErrInvalidState, op, Running, c.state)
	}
	return nil
}
