// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"time"

	vk "github.com/devblok/vulkan"
	"github.com/devblok/vermeer/gfx/vkr"
)

const (
	// DefaultFramesInFlight is how many frames the CPU may record ahead
	// of the GPU when the configuration does not say otherwise.
	DefaultFramesInFlight = 2

	// DefaultFrameTimeout bounds the wait on a frame fence. A fence that
	// stays unsignaled this long means the GPU hung or was removed.
	DefaultFrameTimeout = 5 * time.Second
)

// DrawCommand describes one mesh draw for the current frame.
type DrawCommand struct {
	Pipeline *Pipeline
	Texture  *Texture

	Vertex      *vkr.Buffer
	Index       *vkr.Buffer
	IndexCount  uint32
	VertexCount uint32
}

// frameSlot bundles the synchronisation and per-frame resources for one
// in-flight frame.
type frameSlot struct {
	commandBuffer  vk.CommandBuffer
	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	inFlight       vk.Fence
	uniform        vkr.Buffer
}

// nextFrameIndex advances the frame ring.
func nextFrameIndex(current, framesInFlight uint32) uint32 {
	return (current + 1) % framesInFlight
}

// NewFrameScheduler allocates command buffers, semaphores, fences and a
// host visible uniform buffer per frame slot. Fences start out signaled
// so the first wait on every slot passes immediately.
func NewFrameScheduler(ctx *DeviceContext, swapchain *Swapchain, cache *PipelineCache, cfg RendererConfiguration, uniformSize uint) (*FrameScheduler, error) {
	framesInFlight := cfg.FramesInFlight
	if framesInFlight == 0 {
		framesInFlight = DefaultFramesInFlight
	}
	timeout := cfg.FrameTimeout
	if timeout == 0 {
		timeout = DefaultFrameTimeout
	}

	f := &FrameScheduler{
		ctx:       ctx,
		swapchain: swapchain,
		cache:     cache,
		timeout:   timeout,
		slots:     make([]frameSlot, framesInFlight),
	}
	f.resetImageFences()

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        ctx.CommandPool(),
		CommandBufferCount: uint32(framesInFlight),
	}
	commandBuffers := make([]vk.CommandBuffer, framesInFlight)
	if err := vk.Error(vk.AllocateCommandBuffers(ctx.Device(), &cbai, commandBuffers)); err != nil {
		return nil, fmt.Errorf("vk.AllocateCommandBuffers(): %s", err.Error())
	}

	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}

	for idx := range f.slots {
		slot := &f.slots[idx]
		slot.commandBuffer = commandBuffers[idx]

		if err := vk.Error(vk.CreateSemaphore(ctx.Device(), &sci, nil, &slot.imageAvailable)); err != nil {
			f.Destroy()
			return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
		}
		if err := vk.Error(vk.CreateSemaphore(ctx.Device(), &sci, nil, &slot.renderFinished)); err != nil {
			f.Destroy()
			return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
		}
		if err := vk.Error(vk.CreateFence(ctx.Device(), &fci, nil, &slot.inFlight)); err != nil {
			f.Destroy()
			return nil, errors.New("vk.CreateFence(): " + err.Error())
		}

		uniform, err := vkr.NewBuffer(ctx.Device(), uniformSize, vk.BufferUsageUniformBufferBit, true, ctx.Allocator())
		if err != nil {
			f.Destroy()
			return nil, err
		}
		slot.uniform = uniform
	}

	return f, nil
}

// FrameScheduler runs the per-frame loop with a fixed number of frames
// in flight. Every frame slot owns its command buffer, sync primitives
// and uniform buffer, the CPU never touches a slot the GPU still reads.
type FrameScheduler struct {
	ctx       *DeviceContext
	swapchain *Swapchain
	cache     *PipelineCache
	timeout   time.Duration

	slots   []frameSlot
	current uint32

	// imagesInFlight maps swapchain image index to the fence of the
	// frame slot last submitted against it, guarding against the
	// acquire order differing from the slot order.
	imagesInFlight []vk.Fence
}

func (f *FrameScheduler) resetImageFences() {
	f.imagesInFlight = make([]vk.Fence, f.swapchain.ImageCount())
	for idx := range f.imagesInFlight {
		f.imagesInFlight[idx] = vk.NullFence
	}
}

// CurrentSlot returns the index of the frame slot about to be recorded.
func (f *FrameScheduler) CurrentSlot() uint32 {
	return f.current
}

// SlotIdle reports without blocking whether the GPU finished the work
// last submitted on the given frame slot.
func (f *FrameScheduler) SlotIdle(slot uint32) bool {
	return vk.GetFenceStatus(f.ctx.Device(), f.slots[slot].inFlight) == vk.Success
}

// FramesInFlight returns the size of the frame ring.
func (f *FrameScheduler) FramesInFlight() uint32 {
	return uint32(len(f.slots))
}

// DrawFrame runs one iteration of the frame loop: wait for the slot
// fence, acquire an image, upload the uniform data, record and submit
// the draw commands and queue the image for presentation. A stale
// swapchain rebuilds the chain and skips the frame without error, the
// next iteration draws into the rebuilt chain.
func (f *FrameScheduler) DrawFrame(uniform []byte, commands []DrawCommand, drawableWidth, drawableHeight uint32) error {
	if f.swapchain.Stale() {
		if err := f.swapchain.Rebuild(drawableWidth, drawableHeight); err != nil {
			return err
		}
		f.cache.SetRenderPass(f.swapchain.RenderPass())
		f.resetImageFences()
		return nil
	}

	slot := &f.slots[f.current]

	result := vk.WaitForFences(f.ctx.Device(), 1, []vk.Fence{slot.inFlight}, vk.True, uint(f.timeout.Nanoseconds()))
	if result == vk.Timeout {
		return ErrDeviceLost
	}
	if err := vk.Error(result); err != nil {
		return fmt.Errorf("vk.WaitForFences(): %s", err.Error())
	}

	imageIndex, err := f.swapchain.AcquireNextImage(uint64(f.timeout.Nanoseconds()), slot.imageAvailable)
	if errors.Is(err, ErrSwapchainStale) {
		return f.DrawFrame(uniform, commands, drawableWidth, drawableHeight)
	}
	if err != nil {
		return err
	}

	if f.imagesInFlight[imageIndex] != vk.NullFence {
		vk.WaitForFences(f.ctx.Device(), 1, []vk.Fence{f.imagesInFlight[imageIndex]}, vk.True, uint(f.timeout.Nanoseconds()))
	}
	f.imagesInFlight[imageIndex] = slot.inFlight

	if err := slot.uniform.Write(0, uniform); err != nil {
		return err
	}

	if err := f.record(slot, imageIndex, commands); err != nil {
		return err
	}

	vk.ResetFences(f.ctx.Device(), 1, []vk.Fence{slot.inFlight})

	if err := f.ctx.Submit(slot.commandBuffer,
		[]vk.Semaphore{slot.imageAvailable},
		[]vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		[]vk.Semaphore{slot.renderFinished},
		slot.inFlight); err != nil {
		return err
	}

	err = f.ctx.Present(f.swapchain.Handle(), imageIndex, []vk.Semaphore{slot.renderFinished})
	if errors.Is(err, ErrSwapchainStale) {
		f.swapchain.MarkStale()
		err = nil
	}
	if err != nil {
		return err
	}

	f.current = nextFrameIndex(f.current, uint32(len(f.slots)))
	return nil
}

func (f *FrameScheduler) record(slot *frameSlot, imageIndex uint32, commands []DrawCommand) error {
	cmd := slot.commandBuffer

	if err := vk.Error(vk.ResetCommandBuffer(cmd, 0)); err != nil {
		return fmt.Errorf("vk.ResetCommandBuffer(): %s", err.Error())
	}

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if err := vk.Error(vk.BeginCommandBuffer(cmd, &cbbi)); err != nil {
		return fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}

	extent := f.swapchain.Extent()

	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor([]float32{
		0.005, 0.005, 0.005, 1.0,
	})
	clearValues[1].SetDepthStencil(1, 0)

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  f.swapchain.RenderPass(),
		Framebuffer: f.swapchain.Framebuffer(imageIndex),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{},
			Extent: extent,
		},
		ClearValueCount: 2,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)

	viewport := vk.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{},
		Extent: extent,
	}
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})

	f.cache.BeginFrameSlot(f.current)
	for _, draw := range commands {
		descriptorSet, err := f.cache.BindDescriptors(f.current, draw.Pipeline, &slot.uniform, draw.Texture)
		if err != nil {
			return err
		}

		vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, draw.Pipeline.Handle())
		vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, draw.Pipeline.Layout(), 0, 1, []vk.DescriptorSet{descriptorSet}, 0, nil)
		vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{draw.Vertex.Handle()}, []vk.DeviceSize{0})

		if draw.Index != nil {
			vk.CmdBindIndexBuffer(cmd, draw.Index.Handle(), 0, vk.IndexTypeUint32)
			vk.CmdDrawIndexed(cmd, draw.IndexCount, 1, 0, 0, 0)
		} else {
			vk.CmdDraw(cmd, draw.VertexCount, 1, 0, 0)
		}
	}

	vk.CmdEndRenderPass(cmd)

	if err := vk.Error(vk.EndCommandBuffer(cmd)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}
	return nil
}

// Destroy implements interface
func (f *FrameScheduler) Destroy() {
	f.ctx.WaitIdle()
	for idx := range f.slots {
		slot := &f.slots[idx]
		if slot.imageAvailable != vk.NullSemaphore {
			vk.DestroySemaphore(f.ctx.Device(), slot.imageAvailable, nil)
		}
		if slot.renderFinished != vk.NullSemaphore {
			vk.DestroySemaphore(f.ctx.Device(), slot.renderFinished, nil)
		}
		if slot.inFlight != vk.NullFence {
			vk.DestroyFence(f.ctx.Device(), slot.inFlight, nil)
		}
		if slot.uniform.Handle() != vk.NullBuffer {
			slot.uniform.Release()
		}
		if slot.commandBuffer != nil {
			vk.FreeCommandBuffers(f.ctx.Device(), f.ctx.CommandPool(), 1, []vk.CommandBuffer{slot.commandBuffer})
		}
	}
	f.slots = nil
}
