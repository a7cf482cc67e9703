// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"testing"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/vermeer/gfx/vkr"
)

func fakeCache(t *testing.T) (*PipelineCache, *int) {
	t.Helper()

	builds := 0
	cache := &PipelineCache{
		pipelines: make(map[PipelineKey]*Pipeline),
	}
	cache.builder = func(shaders *ShaderSet, layout VertexLayout) (*Pipeline, error) {
		builds++
		return &Pipeline{}, nil
	}
	return cache, &builds
}

func TestPipelineCacheHit(t *testing.T) {
	cache, builds := fakeCache(t)

	set := &ShaderSet{Name: "default", Bindings: DefaultBindings()}
	layout := VertexLayout{ID: "model"}

	first, err := cache.GetOrBuild(set, layout)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.GetOrBuild(set, layout)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Error("identical keys returned different pipelines")
	}
	if *builds != 1 {
		t.Errorf("builder ran %d times, want 1", *builds)
	}
	if cache.Size() != 1 {
		t.Errorf("cache holds %d pipelines, want 1", cache.Size())
	}
}

func TestPipelineCacheDistinctKeys(t *testing.T) {
	cache, builds := fakeCache(t)

	set := &ShaderSet{Name: "default", Bindings: DefaultBindings()}
	other := &ShaderSet{Name: "skybox", Bindings: DefaultBindings()}
	layout := VertexLayout{ID: "model"}

	if _, err := cache.GetOrBuild(set, layout); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrBuild(other, layout); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrBuild(set, VertexLayout{ID: "debug"}); err != nil {
		t.Fatal(err)
	}

	if *builds != 3 {
		t.Errorf("builder ran %d times, want 3", *builds)
	}
}

func TestPipelineCacheRejectsBindingMismatch(t *testing.T) {
	cache, builds := fakeCache(t)

	set := &ShaderSet{
		Name: "broken",
		Bindings: []BindingDecl{
			{Binding: 0, Type: vk.DescriptorTypeCombinedImageSampler, Stage: vk.ShaderStageFragmentBit},
			{Binding: 1, Type: vk.DescriptorTypeUniformBuffer, Stage: vk.ShaderStageVertexBit},
		},
	}

	_, err := cache.GetOrBuild(set, VertexLayout{ID: "model"})
	if !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("got %v, want ErrBindingMismatch", err)
	}
	if *builds != 0 {
		t.Error("builder ran for a mismatched shader set")
	}
	if cache.Size() != 0 {
		t.Error("mismatched set was cached")
	}
}

func TestValidateBindings(t *testing.T) {
	if err := validateBindings(DefaultBindings()); err != nil {
		t.Errorf("default bindings rejected: %v", err)
	}

	if err := validateBindings(DefaultBindings()[:1]); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("short declaration: got %v, want ErrBindingMismatch", err)
	}

	wrongStage := DefaultBindings()
	wrongStage[1].Stage = vk.ShaderStageVertexBit
	if err := validateBindings(wrongStage); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("wrong stage: got %v, want ErrBindingMismatch", err)
	}
}

func TestBindingWritesTextureSwap(t *testing.T) {
	uniform := &vkr.Buffer{}
	first := &Texture{}
	second := &Texture{}

	bs := &boundSet{}
	if got := len(bindingWrites(bs, uniform, first)); got != 2 {
		t.Fatalf("fresh set planned %d writes, want 2", got)
	}
	bs.uniform = uniform
	bs.texture = first

	writes := bindingWrites(bs, uniform, second)
	if len(writes) != 1 {
		t.Fatalf("texture swap planned %d writes, want 1", len(writes))
	}
	if writes[0].DstBinding != 1 {
		t.Errorf("texture swap wrote binding %d, want 1", writes[0].DstBinding)
	}
	if writes[0].DescriptorType != vk.DescriptorTypeCombinedImageSampler {
		t.Error("texture swap planned the wrong descriptor type")
	}

	if got := len(bindingWrites(bs, uniform, first)); got != 0 {
		t.Errorf("unchanged bindings planned %d writes, want 0", got)
	}
	if bs.texture != first || bs.uniform != uniform {
		t.Error("planning writes mutated the bound set")
	}
}

func TestFrameSlotDescriptorSetsPerDraw(t *testing.T) {
	allocs := 0
	cache := &PipelineCache{slots: make([]descriptorSlot, 1)}
	cache.allocSet = func(vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
		allocs++
		return vk.NullDescriptorSet, nil
	}

	var layout vk.DescriptorSetLayout

	cache.BeginFrameSlot(0)
	first, err := cache.nextBoundSet(0, layout)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.nextBoundSet(0, layout)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("two draws in one frame shared a descriptor set")
	}
	if allocs != 2 {
		t.Errorf("allocated %d sets, want 2", allocs)
	}

	cache.BeginFrameSlot(0)
	reused, err := cache.nextBoundSet(0, layout)
	if err != nil {
		t.Fatal(err)
	}
	if reused != first {
		t.Error("next frame did not reuse the first draw's set")
	}
	if allocs != 2 {
		t.Errorf("allocated %d sets after reuse, want 2", allocs)
	}
}
