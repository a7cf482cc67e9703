// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"

	vk "github.com/devblok/vulkan"
	"github.com/devblok/vermeer/gfx/vkr"
)

// queueFamilies holds the queue family indices a device was selected with.
// Graphics and present may refer to the same family.
type queueFamilies struct {
	graphics uint32
	present  uint32

	hasGraphics bool
	hasPresent  bool
}

func (q queueFamilies) complete() bool {
	return q.hasGraphics && q.hasPresent
}

func (q queueFamilies) separate() bool {
	return q.graphics != q.present
}

func findQueueFamilies(device vk.PhysicalDevice, surface vk.Surface) queueFamilies {
	var families queueFamilies

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilyProperties := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilyProperties)

	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilyProperties[i].Deref()

		if !families.hasGraphics && queueFamilyProperties[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			families.graphics = i
			families.hasGraphics = true
		}

		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(device, i, surface, &supportsPresent)
		if !families.hasPresent && supportsPresent.B() {
			families.present = i
			families.hasPresent = true
		}

		if families.complete() {
			break
		}
	}
	return families
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return false
	}
	properties := make([]vk.ExtensionProperties, count)
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(device, "", &count, properties)); err != nil {
		return false
	}
	for _, ext := range properties {
		ext.Deref()
		if vk.ToString(ext.ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

// deviceSuitable reports whether the given physical device can drive the
// renderer. The reason string is filled when it cannot.
func deviceSuitable(device vk.PhysicalDevice, surface vk.Surface) (bool, string) {
	families := findQueueFamilies(device, surface)
	if !families.hasGraphics {
		return false, "no queue family with graphics support"
	}
	if !families.hasPresent {
		return false, "no queue family can present to the surface"
	}

	if !hasDeviceExtension(device, vk.KhrSwapchainExtensionName) {
		return false, "missing extension: " + vk.KhrSwapchainExtensionName
	}

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(device, &features)
	features.Deref()
	if features.SamplerAnisotropy != vk.True {
		return false, "sampler anisotropy not supported"
	}

	support, err := QuerySwapchainSupport(device, surface)
	if err != nil {
		return false, err.Error()
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return false, "surface reports no formats or present modes"
	}

	return true, ""
}

// NewDeviceContext selects the physical device, creates the logical device
// with graphics and present queues and a command pool. The context must
// outlive every other renderer component and is destroyed last.
func NewDeviceContext(physicalDevice vk.PhysicalDevice, surface vk.Surface, cfg RendererConfiguration) (*DeviceContext, error) {
	if ok, reason := deviceSuitable(physicalDevice, surface); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuitableDevice, reason)
	}

	families := findQueueFamilies(physicalDevice, surface)

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: families.graphics,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	if families.separate() {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: families.present,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	requiredExtensions := append([]string{vk.KhrSwapchainExtensionName}, cfg.DeviceExtensions...)

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(requiredExtensions)),
		PpEnabledExtensionNames: safeStrings(requiredExtensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}

	var device vk.Device
	if err := vk.Error(vk.CreateDevice(physicalDevice, &dci, nil, &device)); err != nil {
		return nil, errors.New("vk.CreateDevice(): " + err.Error())
	}

	var graphicsQueue, presentQueue vk.Queue
	vk.GetDeviceQueue(device, families.graphics, 0, &graphicsQueue)
	if families.separate() {
		vk.GetDeviceQueue(device, families.present, 0, &presentQueue)
	} else {
		presentQueue = graphicsQueue
	}

	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: families.graphics,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(device, &cpci, nil, &commandPool)); err != nil {
		vk.DestroyDevice(device, nil)
		return nil, errors.New("vk.CreateCommandPool(): " + err.Error())
	}

	allocator, err := vkr.NewMemoryAllocator(device, physicalDevice)
	if err != nil {
		vk.DestroyCommandPool(device, commandPool, nil)
		vk.DestroyDevice(device, nil)
		return nil, err
	}

	return &DeviceContext{
		physicalDevice: physicalDevice,
		device:         device,
		families:       families,
		graphicsQueue:  graphicsQueue,
		presentQueue:   presentQueue,
		commandPool:    commandPool,
		allocator:      allocator,
	}, nil
}

// DeviceContext owns the logical device, its queues and the command pool.
// Handles are read-only shared by the other renderer components.
type DeviceContext struct {
	physicalDevice vk.PhysicalDevice
	device         vk.Device

	families      queueFamilies
	graphicsQueue vk.Queue
	presentQueue  vk.Queue

	commandPool vk.CommandPool
	allocator   *vkr.MemoryAllocator
}

// Device returns the logical device handle.
func (d *DeviceContext) Device() vk.Device {
	return d.device
}

// PhysicalDevice returns the selected physical device handle.
func (d *DeviceContext) PhysicalDevice() vk.PhysicalDevice {
	return d.physicalDevice
}

// GraphicsQueue returns the graphics queue.
func (d *DeviceContext) GraphicsQueue() vk.Queue {
	return d.graphicsQueue
}

// PresentQueue returns the presentation queue. May equal the graphics queue.
func (d *DeviceContext) PresentQueue() vk.Queue {
	return d.presentQueue
}

// GraphicsFamily returns the graphics queue family index.
func (d *DeviceContext) GraphicsFamily() uint32 {
	return d.families.graphics
}

// PresentFamily returns the present queue family index.
func (d *DeviceContext) PresentFamily() uint32 {
	return d.families.present
}

// CommandPool returns the command pool for graphics command buffers.
func (d *DeviceContext) CommandPool() vk.CommandPool {
	return d.commandPool
}

// Allocator returns the device memory allocator.
func (d *DeviceContext) Allocator() *vkr.MemoryAllocator {
	return d.allocator
}

// Submit queues a command buffer on the graphics queue.
func (d *DeviceContext) Submit(cmd vk.CommandBuffer, waits []vk.Semaphore, waitStages []vk.PipelineStageFlags, signals []vk.Semaphore, fence vk.Fence) error {
	submit := []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd},
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}}

	result := vk.QueueSubmit(d.graphicsQueue, 1, submit, fence)
	if result == vk.ErrorDeviceLost {
		return ErrDeviceLost
	}
	if err := vk.Error(result); err != nil {
		return fmt.Errorf("vk.QueueSubmit(): %s", err.Error())
	}
	return nil
}

// Present queues an image for presentation. A stale surface is reported
// as ErrSwapchainStale and is recoverable by a swapchain rebuild.
func (d *DeviceContext) Present(swapchain vk.Swapchain, imageIndex uint32, waits []vk.Semaphore) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{swapchain},
		PImageIndices:      []uint32{imageIndex},
	}

	result := vk.QueuePresent(d.presentQueue, &presentInfo)
	if result == vk.ErrorOutOfDate || result == vk.Suboptimal {
		return ErrSwapchainStale
	}
	if err := vk.Error(result); err != nil {
		return errors.New("vk.QueuePresent(): " + err.Error())
	}
	return nil
}

func (d *DeviceContext) beginOneShot() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        d.commandPool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.device, &cbai, commandBuffers)); err != nil {
		return nil, fmt.Errorf("vk.AllocateCommandBuffers(): %s", err.Error())
	}
	commandBuffer := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if err := vk.Error(vk.BeginCommandBuffer(commandBuffer, &cbbi)); err != nil {
		vk.FreeCommandBuffers(d.device, d.commandPool, 1, []vk.CommandBuffer{commandBuffer})
		return nil, fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}

	return commandBuffer, nil
}

// endOneShot submits the command buffer and blocks until the queue drains.
// Only for startup and reload paths, never the frame loop.
func (d *DeviceContext) endOneShot(commandBuffer vk.CommandBuffer) error {
	defer vk.FreeCommandBuffers(d.device, d.commandPool, 1, []vk.CommandBuffer{commandBuffer})

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer},
	}

	if err := vk.Error(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{si}, vk.NullFence)); err != nil {
		return fmt.Errorf("vk.QueueSubmit(): %s", err.Error())
	}
	vk.QueueWaitIdle(d.graphicsQueue)

	return nil
}

// CopyBuffer records and submits a one-shot buffer to buffer copy.
func (d *DeviceContext) CopyBuffer(src, dst vk.Buffer, size vk.DeviceSize) error {
	cmd, err := d.beginOneShot()
	if err != nil {
		return err
	}

	bc := vk.BufferCopy{
		Size: size,
	}
	vk.CmdCopyBuffer(cmd, src, dst, 1, []vk.BufferCopy{bc})

	return d.endOneShot(cmd)
}

// UploadViaStaging copies data into a device-local buffer through a
// transient host-visible staging buffer. Blocks until the copy completes.
func (d *DeviceContext) UploadViaStaging(dst *vkr.Buffer, data []byte) error {
	staging, err := vkr.NewBuffer(d.device, uint(len(data)), vk.BufferUsageTransferSrcBit, true, d.allocator)
	if err != nil {
		return err
	}
	defer staging.Release()

	if err := staging.Write(0, data); err != nil {
		return err
	}

	return d.CopyBuffer(staging.Handle(), dst.Handle(), vk.DeviceSize(len(data)))
}

// WaitIdle blocks until all queued GPU work completes. Required before
// destroying any resource the GPU may still reference.
func (d *DeviceContext) WaitIdle() {
	vk.DeviceWaitIdle(d.device)
}

// Destroy implements interface
func (d *DeviceContext) Destroy() {
	vk.DeviceWaitIdle(d.device)
	vk.DestroyCommandPool(d.device, d.commandPool, nil)
	vk.DestroyDevice(d.device, nil)
}
