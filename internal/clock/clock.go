// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package clock provides an injectable timer source.
//
// Every timed wait in the session engine (join handshakes, discovery
// walks, composing notifications) is armed through a Clock so that tests
// can drive virtual time instead of sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a single armed timeout.
// Stop reports whether the call prevented the function from running.
type Timer interface {
	Stop() bool
}

// Clock schedules functions to run after a duration has elapsed.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// System returns a Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

// Virtual is a Clock whose time only moves when Advance is called.
// The zero value is usable and starts at the zero time.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
}

type virtualTimer struct {
	c       *Virtual
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *virtualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc arms f to run when the virtual clock advances past d.
func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTimer{c: v, when: v.now.Add(d), f: f}
	v.timers = append(v.timers, t)
	return t
}

// Advance moves the clock forward, running any timers that come due in
// the order they expire.
// Timers armed by the functions being run are themselves eligible to
// fire if they come due before the new time.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	end := v.now.Add(d)

	for {
		sort.SliceStable(v.timers, func(i, j int) bool {
			return v.timers[i].when.Before(v.timers[j].when)
		})
		var next *virtualTimer
		for _, t := range v.timers {
			if !t.stopped && !t.fired && !t.when.After(end) {
				next = t
				break
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		if next.when.After(v.now) {
			v.now = next.when
		}
		f := next.f
		v.mu.Unlock()
		f()
		v.mu.Lock()
	}

	v.now = end
	live := v.timers[:0]
	for _, t := range v.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	v.timers = live
	v.mu.Unlock()
}
