// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements vulkan rendering resources: device memory,
// buffers and images.
package vkr

import (
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/vermeer/gfx"
)

var (
	_ gfx.Releasable = (*Buffer)(nil)
	_ gfx.Releasable = (*Image)(nil)
	_ gfx.Releasable = (*Memory)(nil)
)

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

// NewBuffer creates, configures, allocates and binds a new buffer.
// Host visible buffers land in host-coherent memory and accept Write,
// all others are device local and must be filled through a staging copy.
func NewBuffer(dev vk.Device, size uint, usage vk.BufferUsageFlagBits, hostVisible bool, ma *MemoryAllocator) (Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return Buffer{}, fmt.Errorf("vk.CreateBuffer(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	req.Deref()

	properties := vk.MemoryPropertyDeviceLocalBit
	if hostVisible {
		properties = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}

	memory, err := ma.Malloc(req, properties)
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return Buffer{}, err
	}

	vk.BindBufferMemory(dev, buffer, memory.Get(), vk.DeviceSize(memory.Offset()))

	return Buffer{
		device: dev,
		buffer: buffer,
		size:   size,
		memory: memory,
	}, nil
}

// Buffer implements a generic vulkan buffer.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint

	memory Memory
}

// Mem returns the Memory that the buffer is based on.
func (b *Buffer) Mem() *Memory {
	return &b.memory
}

// Handle returns the vulkan Buffer handle.
func (b *Buffer) Handle() vk.Buffer {
	return b.buffer
}

// Size returns the requested size of the buffer.
func (b *Buffer) Size() uint {
	return b.size
}

// Write copies data into the buffer at the given offset. Only legal on
// host visible buffers. The caller is responsible for making sure the GPU
// is not reading the region, the frame scheduler does so with fences.
func (b *Buffer) Write(offset uint, data []byte) error {
	if !b.memory.HostVisible() {
		return ErrNotHostVisible
	}
	if offset+uint(len(data)) > b.size {
		return fmt.Errorf("vkr: write of %d bytes at %d exceeds buffer size %d", len(data), offset, b.size)
	}

	mapped, err := b.memory.Map()
	if err != nil {
		return err
	}

	region := *(*[]byte)(unsafe.Pointer(&sliceHeader{
		Data: uintptr(mapped) + uintptr(offset),
		Cap:  len(data),
		Len:  len(data),
	}))
	copy(region, data)
	return nil
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// ImageCreateInfo configures NewImage.
type ImageCreateInfo struct {
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    vk.Format
	Tiling    vk.ImageTiling
	Usage     vk.ImageUsageFlagBits
}

// NewImage creates a vulkan image and binds device local memory to it.
// The image starts out in the undefined layout.
func NewImage(dev vk.Device, info ImageCreateInfo, ma *MemoryAllocator) (Image, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        info.Tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev, &createInfo, nil, &image)); err != nil {
		return Image{}, fmt.Errorf("vk.CreateImage(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, image, &req)
	req.Deref()

	memory, err := ma.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		return Image{}, err
	}

	if err := vk.Error(vk.BindImageMemory(dev, image, memory.Get(), vk.DeviceSize(memory.Offset()))); err != nil {
		memory.Release()
		vk.DestroyImage(dev, image, nil)
		return Image{}, fmt.Errorf("vk.BindImageMemory(): %s", err.Error())
	}

	return Image{
		device:    dev,
		image:     image,
		memory:    memory,
		mipLevels: info.MipLevels,
		format:    info.Format,
	}, nil
}

// Image implements and abstracts vulkan image primitive.
type Image struct {
	device    vk.Device
	image     vk.Image
	memory    Memory
	mipLevels uint32
	format    vk.Format
}

// Handle returns the vulkan Image handle.
func (i *Image) Handle() vk.Image {
	return i.image
}

// Mem returns the underlying memory of the Image.
func (i *Image) Mem() *Memory {
	return &i.memory
}

// MipLevels returns the number of mip levels the image was created with.
func (i *Image) MipLevels() uint32 {
	return i.mipLevels
}

// Format returns the image format.
func (i *Image) Format() vk.Format {
	return i.format
}

// Release destroys the image and frees its memory.
func (i *Image) Release() {
	vk.DestroyImage(i.device, i.image, nil)
	i.memory.Release()
}
