// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"

	"github.com/loov/hrtime"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) Time {
	var interval time.Duration
	if cfg.FramesPerSecond == 0 {
		interval = time.Nanosecond
	} else {
		interval = time.Second / (time.Duration)(cfg.FramesPerSecond)
	}

	return Time{
		fps:            cfg.FramesPerSecond,
		fpsTicker:      time.NewTicker(interval),
		eventPollDelay: cfg.EventPollDelay,
		eventTicker:    time.NewTicker(time.Duration(cfg.EventPollDelay) * time.Millisecond),
	}
}

// Time contains all the time services and tickers
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventPollDelay int
	eventTicker    *time.Ticker
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// NewFramerate creates a started framerate counter.
func NewFramerate() *Framerate {
	return &Framerate{
		start: hrtime.Now(),
	}
}

// Framerate counts presented frames against a high resolution clock.
type Framerate struct {
	start  time.Duration
	frames uint64
}

// Update registers one presented frame.
func (f *Framerate) Update() {
	f.frames++
}

// Elapsed returns the seconds since the counter started.
func (f *Framerate) Elapsed() float64 {
	return (hrtime.Now() - f.start).Seconds()
}

// Fps returns the average framerate since the counter started.
func (f *Framerate) Fps() float64 {
	elapsed := f.Elapsed()
	if elapsed == 0 {
		return 0
	}
	return float64(f.frames) / elapsed
}

// Counter returns the number of frames registered so far.
func (f *Framerate) Counter() uint64 {
	return f.frames
}

// Reset restarts the counter.
func (f *Framerate) Reset() {
	f.start = hrtime.Now()
	f.frames = 0
}
