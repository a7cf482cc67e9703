// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"math"
	"testing"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/vermeer/core"
)

func TestChooseSurfaceFormatPrefersSrgb(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}

	chosen := core.ChooseSurfaceFormat(formats)
	if chosen.Format != vk.FormatB8g8r8a8Srgb {
		t.Errorf("chose format %d, want %d", chosen.Format, vk.FormatB8g8r8a8Srgb)
	}
}

func TestChooseSurfaceFormatFallsBackToFirst(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR5g6b5UnormPack16, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}

	chosen := core.ChooseSurfaceFormat(formats)
	if chosen.Format != vk.FormatR8g8b8a8Unorm {
		t.Errorf("chose format %d, want first reported %d", chosen.Format, vk.FormatR8g8b8a8Unorm)
	}
}

func TestChooseSurfaceFormatEmpty(t *testing.T) {
	chosen := core.ChooseSurfaceFormat(nil)
	if chosen.Format != vk.FormatUndefined {
		t.Errorf("chose format %d for an empty list, want undefined", chosen.Format)
	}
}

func TestChoosePresentMode(t *testing.T) {
	withMailbox := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox, vk.PresentModeImmediate}
	if mode := core.ChoosePresentMode(withMailbox); mode != vk.PresentModeMailbox {
		t.Errorf("chose mode %d, want mailbox", mode)
	}

	withoutMailbox := []vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeFifoRelaxed}
	if mode := core.ChoosePresentMode(withoutMailbox); mode != vk.PresentModeFifo {
		t.Errorf("chose mode %d, want fifo fallback", mode)
	}
}

func TestChooseImageCount(t *testing.T) {
	cases := []struct {
		requested, min, max uint32
		want                uint32
	}{
		{3, 2, 8, 3},
		{1, 2, 8, 2},
		{10, 2, 8, 8},
		{10, 2, 0, 10},
		{0, 2, 0, 2},
	}

	for _, c := range cases {
		if got := core.ChooseImageCount(c.requested, c.min, c.max); got != c.want {
			t.Errorf("ChooseImageCount(%d, %d, %d) = %d, want %d", c.requested, c.min, c.max, got, c.want)
		}
	}
}

func TestChooseExtentSurfacePinned(t *testing.T) {
	current := vk.Extent2D{Width: 800, Height: 600}
	extent := core.ChooseExtent(current, vk.Extent2D{Width: 1, Height: 1}, vk.Extent2D{Width: 4096, Height: 4096}, 1024, 768)
	if extent.Width != 800 || extent.Height != 600 {
		t.Errorf("extent = %dx%d, want surface pinned 800x600", extent.Width, extent.Height)
	}
}

func TestChooseExtentClampsDrawable(t *testing.T) {
	current := vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	min := vk.Extent2D{Width: 200, Height: 200}
	max := vk.Extent2D{Width: 1000, Height: 1000}

	extent := core.ChooseExtent(current, min, max, 1600, 100)
	if extent.Width != 1000 {
		t.Errorf("width = %d, want clamped to max 1000", extent.Width)
	}
	if extent.Height != 200 {
		t.Errorf("height = %d, want raised to min 200", extent.Height)
	}

	extent = core.ChooseExtent(current, min, max, 640, 480)
	if extent.Width != 640 || extent.Height != 480 {
		t.Errorf("extent = %dx%d, want drawable 640x480", extent.Width, extent.Height)
	}
}
