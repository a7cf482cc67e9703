// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "testing"

func TestNextFrameIndex(t *testing.T) {
	cases := []struct {
		current, frames uint32
		want            uint32
	}{
		{0, 2, 1},
		{1, 2, 0},
		{0, 3, 1},
		{2, 3, 0},
	}

	for _, c := range cases {
		if got := nextFrameIndex(c.current, c.frames); got != c.want {
			t.Errorf("nextFrameIndex(%d, %d) = %d, want %d", c.current, c.frames, got, c.want)
		}
	}
}

func TestNextFrameIndexCycles(t *testing.T) {
	const frames = DefaultFramesInFlight

	seen := make(map[uint32]int)
	current := uint32(0)
	for i := 0; i < frames*4; i++ {
		seen[current]++
		current = nextFrameIndex(current, frames)
	}

	if current != 0 {
		t.Errorf("ring did not land back on slot 0, got %d", current)
	}
	for slot := uint32(0); slot < frames; slot++ {
		if seen[slot] != 4 {
			t.Errorf("slot %d used %d times, want 4", slot, seen[slot])
		}
	}
}
