// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"testing"
	"time"

	"github.com/devblok/vermeer/core"
)

func TestFramerateCounter(t *testing.T) {
	framerate := core.NewFramerate()

	for i := 0; i < 10; i++ {
		framerate.Update()
	}
	if framerate.Counter() != 10 {
		t.Errorf("counter = %d, want 10", framerate.Counter())
	}

	time.Sleep(time.Millisecond)
	if framerate.Elapsed() <= 0 {
		t.Error("elapsed time did not advance")
	}
	if framerate.Fps() <= 0 {
		t.Error("fps not positive after updates")
	}

	framerate.Reset()
	if framerate.Counter() != 0 {
		t.Errorf("counter = %d after reset, want 0", framerate.Counter())
	}
}

func TestTimeTickers(t *testing.T) {
	svc := core.NewTime(core.TimeConfiguration{
		FramesPerSecond: 1000,
		EventPollDelay:  1,
	})

	if svc.Fps() != 1000 {
		t.Errorf("fps = %d, want 1000", svc.Fps())
	}

	select {
	case <-svc.FpsTicker().C:
	case <-time.After(time.Second):
		t.Error("fps ticker did not fire")
	}

	select {
	case <-svc.EventTicker().C:
	case <-time.After(time.Second):
		t.Error("event ticker did not fire")
	}
}
