// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order, without the clock's lock held; they may arm new timers but
// must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	seq     uint64
	changed *sync.Cond
}

type alarm struct {
	at       time.Time
	seq      uint64
	every    time.Duration
	channel  chan time.Time
	callback func()
	done     bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot channel alarm.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&alarm{at: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run during the Advance that crosses d.
// A non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), callback: f}
	c.addLocked(entry)
	c.mu.Unlock()
	return &Timer{stop: func() bool { return c.cancel(entry) }}
}

// NewTicker registers a repeating channel alarm.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker with non-positive interval")
	}
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), every: d, channel: channel}
	c.addLocked(entry)
	c.mu.Unlock()
	return &Ticker{C: channel, stop: func() { c.cancel(entry) }}
}

// Advance moves time forward by d, firing every alarm whose deadline
// is reached. A ticker spanning several intervals fires once per
// interval; ticks its channel cannot hold are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		fireTime := next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
			next.seq = c.nextSeqLocked()
		} else {
			next.done = true
			c.removeLocked(next)
		}
		c.mu.Unlock()

		if next.callback != nil {
			next.callback()
			continue
		}
		select {
		case next.channel <- fireTime:
		default:
		}
	}
}

// WaitForTimers blocks until at least n alarms are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount reports how many alarms are armed.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) addLocked(entry *alarm) {
	entry.seq = c.nextSeqLocked()
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) nextSeqLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *FakeClock) removeLocked(entry *alarm) {
	c.pending = slices.DeleteFunc(c.pending, func(candidate *alarm) bool {
		return candidate == entry
	})
	c.changed.Broadcast()
}

func (c *FakeClock) cancel(entry *alarm) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.done {
		return false
	}
	entry.done = true
	c.removeLocked(entry)
	return true
}

// nextDueLocked returns the earliest alarm due at or before target.
// Ties break by registration order.
func (c *FakeClock) nextDueLocked(target time.Time) *alarm {
	var best *alarm
	for _, entry := range c.pending {
		if entry.at.After(target) {
			continue
		}
		if best == nil || entry.at.Before(best.at) ||
			(entry.at.Equal(best.at) && entry.seq < best.seq) {
			best = entry
		}
	}
	return best
}
