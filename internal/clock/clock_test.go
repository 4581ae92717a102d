// Copyright 2022 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package clock_test

import (
	"testing"
	"time"

	"github.com/hallski/gossip-sub001/internal/clock"
)

func TestVirtualOrdering(t *testing.T) {
	c := &clock.Virtual{}
	var got []int
	c.AfterFunc(3*time.Second, func() { got = append(got, 3) })
	c.AfterFunc(1*time.Second, func() { got = append(got, 1) })
	c.AfterFunc(2*time.Second, func() { got = append(got, 2) })

	c.Advance(90 * time.Second)
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("timers fired out of order: %v", got)
	}
}

func TestVirtualStop(t *testing.T) {
	c := &clock.Virtual{}
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Errorf("expected Stop to report success")
	}
	c.Advance(time.Minute)
	if fired {
		t.Errorf("stopped timer fired anyways")
	}
	if timer.Stop() {
		t.Errorf("second Stop should report failure")
	}
}

func TestVirtualPartialAdvance(t *testing.T) {
	c := &clock.Virtual{}
	fired := false
	c.AfterFunc(10*time.Second, func() { fired = true })
	c.Advance(9 * time.Second)
	if fired {
		t.Fatalf("timer fired early")
	}
	c.Advance(time.Second)
	if !fired {
		t.Fatalf("timer never fired")
	}
}

func TestVirtualNestedTimer(t *testing.T) {
	c := &clock.Virtual{}
	var got []string
	c.AfterFunc(time.Second, func() {
		got = append(got, "outer")
		c.AfterFunc(time.Second, func() { got = append(got, "inner") })
	})
	c.Advance(5 * time.Second)
	if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
		t.Errorf("nested timer did not fire: %v", got)
	}
	if now := c.Now(); !now.Equal(time.Time{}.Add(5 * time.Second)) {
		t.Errorf("wrong final time: %v", now)
	}
}
