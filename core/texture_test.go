// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"testing"

	"github.com/devblok/vermeer/core"
)

func TestMipLevels(t *testing.T) {
	cases := []struct {
		width, height uint32
		want          uint32
	}{
		{1, 1, 1},
		{2, 2, 2},
		{256, 256, 9},
		{512, 256, 10},
		{300, 200, 9},
		{1024, 1, 11},
		{1, 1024, 11},
		{1920, 1080, 12},
	}

	for _, c := range cases {
		if got := core.MipLevels(c.width, c.height); got != c.want {
			t.Errorf("MipLevels(%d, %d) = %d, want %d", c.width, c.height, got, c.want)
		}
	}
}

func TestMipExtent(t *testing.T) {
	cases := []struct {
		width, height, level uint32
		wantW, wantH         uint32
	}{
		{256, 256, 0, 256, 256},
		{256, 256, 1, 128, 128},
		{256, 256, 8, 1, 1},
		{300, 200, 1, 150, 100},
		{300, 200, 3, 37, 25},
		{1024, 1, 5, 32, 1},
		{16, 4, 4, 1, 1},
	}

	for _, c := range cases {
		w, h := core.MipExtent(c.width, c.height, c.level)
		if w != c.wantW || h != c.wantH {
			t.Errorf("MipExtent(%d, %d, %d) = (%d, %d), want (%d, %d)",
				c.width, c.height, c.level, w, h, c.wantW, c.wantH)
		}
	}
}

func TestMipExtentChainReachesOne(t *testing.T) {
	const width, height = 640, 480
	levels := core.MipLevels(width, height)

	prevW, prevH := core.MipExtent(width, height, 0)
	for level := uint32(1); level < levels; level++ {
		w, h := core.MipExtent(width, height, level)
		if w > prevW || h > prevH {
			t.Fatalf("level %d grew: (%d, %d) after (%d, %d)", level, w, h, prevW, prevH)
		}
		if w < 1 || h < 1 {
			t.Fatalf("level %d dropped below one: (%d, %d)", level, w, h)
		}
		prevW, prevH = w, h
	}

	if prevW != 1 || prevH != 1 {
		t.Errorf("last level is (%d, %d), want (1, 1)", prevW, prevH)
	}
}
