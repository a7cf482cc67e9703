// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/devblok/vermeer/gfx/vkr"
)

// BindingDecl describes a single descriptor binding a shader declares.
type BindingDecl struct {
	Binding uint32
	Type    vk.DescriptorType
	Stage   vk.ShaderStageFlagBits
}

// DefaultBindings is the descriptor interface every pipeline is built
// against: a uniform buffer read by the vertex stage on binding 0 and a
// combined image sampler read by the fragment stage on binding 1.
func DefaultBindings() []BindingDecl {
	return []BindingDecl{
		{Binding: 0, Type: vk.DescriptorTypeUniformBuffer, Stage: vk.ShaderStageVertexBit},
		{Binding: 1, Type: vk.DescriptorTypeCombinedImageSampler, Stage: vk.ShaderStageFragmentBit},
	}
}

// validateBindings checks the declared bindings structurally against the
// fixed descriptor layout. A mismatch cannot be recovered at runtime,
// the shader itself has to change.
func validateBindings(decls []BindingDecl) error {
	expected := DefaultBindings()
	if len(decls) != len(expected) {
		return fmt.Errorf("%w: declared %d bindings, layout has %d", ErrBindingMismatch, len(decls), len(expected))
	}
	for idx, want := range expected {
		got := decls[idx]
		if got.Binding != want.Binding || got.Type != want.Type || got.Stage != want.Stage {
			return fmt.Errorf("%w: binding %d declared as (type %d, stage %d), layout has (type %d, stage %d)",
				ErrBindingMismatch, got.Binding, got.Type, got.Stage, want.Type, want.Stage)
		}
	}
	return nil
}

// VertexLayout declares the vertex input interface of a pipeline.
// The ID keys the pipeline cache together with the shader set name.
type VertexLayout struct {
	ID         string
	Bindings   []vk.VertexInputBindingDescription
	Attributes []vk.VertexInputAttributeDescription
}

// PipelineKey identifies a built pipeline by its shader pair and vertex
// layout. Both components are immutable once the pipeline is built.
type PipelineKey struct {
	Shader string
	Layout string
}

// Pipeline holds a built graphics pipeline with its layout and
// descriptor set layout. Immutable and freely shared across frames.
type Pipeline struct {
	key                 PipelineKey
	pipeline            vk.Pipeline
	layout              vk.PipelineLayout
	descriptorSetLayout vk.DescriptorSetLayout
}

// Key returns the cache key the pipeline was built with.
func (p *Pipeline) Key() PipelineKey {
	return p.key
}

// Handle returns the raw pipeline handle.
func (p *Pipeline) Handle() vk.Pipeline {
	return p.pipeline
}

// Layout returns the pipeline layout handle.
func (p *Pipeline) Layout() vk.PipelineLayout {
	return p.layout
}

func (p *Pipeline) destroy(device vk.Device) {
	vk.DestroyPipeline(device, p.pipeline, nil)
	vk.DestroyPipelineLayout(device, p.layout, nil)
	vk.DestroyDescriptorSetLayout(device, p.descriptorSetLayout, nil)
}

// NewPipelineCache creates an empty pipeline cache backed by a driver
// level vk.PipelineCache. Pipelines are built eagerly at startup, the
// steady state loop only looks them up.
func NewPipelineCache(ctx *DeviceContext, renderPass vk.RenderPass, frameSlots uint32) (*PipelineCache, error) {
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}

	var pipelineCache vk.PipelineCache
	if err := vk.Error(vk.CreatePipelineCache(ctx.Device(), &pcci, nil, &pipelineCache)); err != nil {
		return nil, errors.New("vk.CreatePipelineCache(): " + err.Error())
	}

	c := &PipelineCache{
		ctx:        ctx,
		cache:      pipelineCache,
		renderPass: renderPass,
		pipelines:  make(map[PipelineKey]*Pipeline),
		slots:      make([]descriptorSlot, frameSlots),
	}
	c.builder = c.buildPipeline
	c.allocSet = c.allocateDescriptorSet

	if err := c.createDescriptorPool(frameSlots); err != nil {
		vk.DestroyPipelineCache(ctx.Device(), pipelineCache, nil)
		return nil, err
	}
	return c, nil
}

// maxSetsPerSlot bounds how many draws with distinct bindings a single
// recorded frame can hold, sizing the descriptor pool.
const maxSetsPerSlot = 64

// descriptorSlot hands out one descriptor set per draw recorded into a
// frame slot. Sets recorded into the same command buffer must not be
// shared, they are read at execution time, not at record time. The
// cursor restarts every frame so draws recorded in a stable order keep
// reusing the set they wrote last time.
type descriptorSlot struct {
	sets []*boundSet
	next int
}

// boundSet is one allocated descriptor set together with the resources
// its bindings currently point at.
type boundSet struct {
	set     vk.DescriptorSet
	uniform *vkr.Buffer
	texture *Texture
}

// PipelineCache compiles and caches graphics pipelines keyed by shader
// pair and vertex layout, and hands out per-frame-slot descriptor sets.
type PipelineCache struct {
	ctx        *DeviceContext
	cache      vk.PipelineCache
	renderPass vk.RenderPass

	pipelines map[PipelineKey]*Pipeline
	builder   func(*ShaderSet, VertexLayout) (*Pipeline, error)
	allocSet  func(vk.DescriptorSetLayout) (vk.DescriptorSet, error)

	descriptorPool vk.DescriptorPool
	slots          []descriptorSlot
}

func (c *PipelineCache) createDescriptorPool(frameSlots uint32) error {
	maxSets := frameSlots * maxSetsPerSlot
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: maxSets,
		},
		{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: maxSets,
		},
	}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var descriptorPool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(c.ctx.Device(), &dpci, nil, &descriptorPool)); err != nil {
		return errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}
	c.descriptorPool = descriptorPool
	return nil
}

// GetOrBuild returns the pipeline for the given shader set and vertex
// layout, building it on first request. Identical keys always return
// the same instance. The shader's declared bindings are validated
// against the descriptor layout before anything is built.
func (c *PipelineCache) GetOrBuild(shaders *ShaderSet, layout VertexLayout) (*Pipeline, error) {
	key := PipelineKey{Shader: shaders.Name, Layout: layout.ID}
	if pipeline, ok := c.pipelines[key]; ok {
		return pipeline, nil
	}

	if err := validateBindings(shaders.Bindings); err != nil {
		return nil, fmt.Errorf("shader set %q: %w", shaders.Name, err)
	}

	pipeline, err := c.builder(shaders, layout)
	if err != nil {
		return nil, err
	}
	pipeline.key = key
	c.pipelines[key] = pipeline
	return pipeline, nil
}

func (c *PipelineCache) buildPipeline(shaders *ShaderSet, layout VertexLayout) (*Pipeline, error) {
	device := c.ctx.Device()

	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(shaders.Bindings))
	for _, decl := range shaders.Bindings {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         decl.Binding,
			DescriptorType:  decl.Type,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(decl.Stage),
		})
	}
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var descriptorSetLayout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(device, &dslci, nil, &descriptorSetLayout)); err != nil {
		return nil, errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}

	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{descriptorSetLayout},
	}

	var pipelineLayout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(device, &plci, nil, &pipelineLayout)); err != nil {
		vk.DestroyDescriptorSetLayout(device, descriptorSetLayout, nil)
		return nil, errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, 2)
	for _, shader := range []Shader{shaders.Vertex, shaders.Fragment} {
		var stage vk.ShaderStageFlagBits
		switch shader.Type() {
		case VertexShaderType:
			stage = vk.ShaderStageVertexBit
		case FragmentShaderType:
			stage = vk.ShaderStageFragmentBit
		default:
			return nil, errors.New("unsupported shader type attempted creation")
		}

		shaderModule, ok := shader.ShaderModule().(vk.ShaderModule)
		if !ok {
			return nil, errors.New("failed to assert shader module to it's original type")
		}

		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: shaderModule,
			PName:  safeString("main"),
		})
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexAttributeDescriptionCount: uint32(len(layout.Attributes)),
			PVertexAttributeDescriptions:    layout.Attributes,
			VertexBindingDescriptionCount:   uint32(len(layout.Bindings)),
			PVertexBindingDescriptions:      layout.Bindings,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vk.True,
			DepthWriteEnable:      vk.True,
			DepthCompareOp:        vk.CompareOpLess,
			DepthBoundsTestEnable: vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			StencilTestEnable: vk.False,
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: 0xF,
				BlendEnable:    vk.False,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     pipelineLayout,
		RenderPass: c.renderPass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := vk.Error(vk.CreateGraphicsPipelines(device, c.cache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		vk.DestroyPipelineLayout(device, pipelineLayout, nil)
		vk.DestroyDescriptorSetLayout(device, descriptorSetLayout, nil)
		return nil, errors.New("vk.CreateGraphicsPipelines(): " + err.Error())
	}

	return &Pipeline{
		pipeline:            pipelines[0],
		layout:              pipelineLayout,
		descriptorSetLayout: descriptorSetLayout,
	}, nil
}

// BeginFrameSlot restarts the slot's descriptor cursor. Called once per
// recorded frame, before the first BindDescriptors of that frame.
func (c *PipelineCache) BeginFrameSlot(slot uint32) {
	c.slots[slot].next = 0
}

// nextBoundSet returns the set for the next draw recorded into the
// slot, allocating one when the frame holds more draws than any before.
func (c *PipelineCache) nextBoundSet(slot uint32, layout vk.DescriptorSetLayout) (*boundSet, error) {
	state := &c.slots[slot]
	if state.next < len(state.sets) {
		bs := state.sets[state.next]
		state.next++
		return bs, nil
	}

	set, err := c.allocSet(layout)
	if err != nil {
		return nil, err
	}
	bs := &boundSet{set: set}
	state.sets = append(state.sets, bs)
	state.next++
	return bs, nil
}

func (c *PipelineCache) allocateDescriptorSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}

	var set vk.DescriptorSet
	if err := vk.Error(vk.AllocateDescriptorSets(c.ctx.Device(), &dsai, &set)); err != nil {
		return vk.NullDescriptorSet, fmt.Errorf("vk.AllocateDescriptorSets(): %s", err.Error())
	}
	return set, nil
}

// bindingWrites builds the descriptor writes needed to point the set at
// the given resources. Bindings that already match are left out, so a
// set whose texture changed gets a single write against binding 1.
func bindingWrites(bs *boundSet, uniform *vkr.Buffer, texture *Texture) []vk.WriteDescriptorSet {
	var writes []vk.WriteDescriptorSet
	if bs.uniform != uniform {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          bs.set,
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: uniform.Handle(),
				Offset: 0,
				Range:  vk.DeviceSize(uniform.Size()),
			}},
		})
	}
	if bs.texture != texture {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          bs.set,
			DstBinding:      1,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo: []vk.DescriptorImageInfo{{
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
				ImageView:   texture.View(),
				Sampler:     texture.Sampler(),
			}},
		})
	}
	return writes
}

// BindDescriptors returns the descriptor set for the next draw of the
// given frame slot, with binding 0 pointing at the uniform buffer and
// binding 1 at the texture. Every draw in a frame gets its own set, so
// draws with different textures never overwrite each other inside one
// command buffer. Bindings that already point at the right resource
// are left untouched.
func (c *PipelineCache) BindDescriptors(slot uint32, pipeline *Pipeline, uniform *vkr.Buffer, texture *Texture) (vk.DescriptorSet, error) {
	bs, err := c.nextBoundSet(slot, pipeline.descriptorSetLayout)
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	if writes := bindingWrites(bs, uniform, texture); len(writes) > 0 {
		vk.UpdateDescriptorSets(c.ctx.Device(), uint32(len(writes)), writes, 0, nil)
	}
	bs.uniform = uniform
	bs.texture = texture
	return bs.set, nil
}

// Size returns the number of pipelines held by the cache.
func (c *PipelineCache) Size() int {
	return len(c.pipelines)
}

// SetRenderPass points newly built pipelines at a different render pass,
// used after a swapchain rebuild. Existing pipelines stay valid because
// rebuilt passes keep the same attachment formats.
func (c *PipelineCache) SetRenderPass(renderPass vk.RenderPass) {
	c.renderPass = renderPass
}

// Destroy implements interface
func (c *PipelineCache) Destroy() {
	device := c.ctx.Device()
	for _, pipeline := range c.pipelines {
		pipeline.destroy(device)
	}
	c.pipelines = nil
	vk.DestroyDescriptorPool(device, c.descriptorPool, nil)
	vk.DestroyPipelineCache(device, c.cache, nil)
}

// uniformBytes reinterprets a struct pointer as raw bytes for buffer
// writes. The struct must be fixed size and free of Go pointers.
func uniformBytes(ptr unsafe.Pointer, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&sliceHeader{
		Data: uintptr(ptr),
		Len:  int(size),
		Cap:  int(size),
	}))
}
