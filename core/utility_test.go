// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/devblok/vermeer/core"
)

var testImage image.Image

func init() {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	testImage = img
}

func TestGetPixelsSize(t *testing.T) {
	pixels, err := core.GetPixels(testImage, 4*256)
	if err != nil {
		t.Fatal(err)
	}
	if len(pixels) != 256*256*4 {
		t.Errorf("got %d bytes, want %d", len(pixels), 256*256*4)
	}
}

func TestSliceUint32(t *testing.T) {
	data := []byte{0x01, 0x00, 0x00, 0x00, 0xff, 0x00, 0x00, 0x00}
	words := core.SliceUint32(data)
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	if words[0] != 1 || words[1] != 255 {
		t.Errorf("words = %v, want [1 255]", words)
	}
}

func BenchmarkGetPixelsNoRowPitch(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixels(testImage, 0)
	}
}

func BenchmarkGetPixelsBigRowPitch(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixels(testImage, 1000)
	}
}

func BenchmarkSliceUint32Small(b *testing.B) {
	data := make([]byte, 64)
	b.ResetTimer()
	for idx := 0; idx < b.N; idx++ {
		core.SliceUint32(data)
	}
}

func BenchmarkSliceUint32Big(b *testing.B) {
	data := make([]byte, 1<<20)
	b.ResetTimer()
	for idx := 0; idx < b.N; idx++ {
		core.SliceUint32(data)
	}
}
