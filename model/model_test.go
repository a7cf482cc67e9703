// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model_test

import (
	"testing"
	"unsafe"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/vermeer/model"
)

func TestVertexBindingStride(t *testing.T) {
	bindings := model.VertexBindingDescriptions()
	if len(bindings) != 1 {
		t.Fatalf("got %d bindings, want 1", len(bindings))
	}
	if bindings[0].Stride != uint32(unsafe.Sizeof(model.Vertex{})) {
		t.Errorf("stride = %d, want %d", bindings[0].Stride, unsafe.Sizeof(model.Vertex{}))
	}
}

func TestVertexAttributeLayout(t *testing.T) {
	attrs := model.VertexAttributeDescriptions()
	if len(attrs) != 3 {
		t.Fatalf("got %d attributes, want 3", len(attrs))
	}

	wantFormats := []vk.Format{
		vk.FormatR32g32b32Sfloat,
		vk.FormatR32g32b32a32Sfloat,
		vk.FormatR32g32Sfloat,
	}
	wantOffsets := []uint32{
		uint32(unsafe.Offsetof(model.Vertex{}.Pos)),
		uint32(unsafe.Offsetof(model.Vertex{}.Color)),
		uint32(unsafe.Offsetof(model.Vertex{}.TexCoord)),
	}

	for idx, attr := range attrs {
		if attr.Location != uint32(idx) {
			t.Errorf("attribute %d has location %d", idx, attr.Location)
		}
		if attr.Format != wantFormats[idx] {
			t.Errorf("attribute %d format = %d, want %d", idx, attr.Format, wantFormats[idx])
		}
		if attr.Offset != wantOffsets[idx] {
			t.Errorf("attribute %d offset = %d, want %d", idx, attr.Offset, wantOffsets[idx])
		}
	}
}

func TestUniformSizeIsMat4Aligned(t *testing.T) {
	size := unsafe.Sizeof(model.Uniform{})
	if size != 3*64 {
		t.Errorf("uniform size = %d, want %d", size, 3*64)
	}
}
