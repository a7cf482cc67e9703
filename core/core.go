// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core implements the renderer of the engine: device and swapchain
// lifecycle, pipeline and descriptor caching, texture building and the
// per-frame scheduling loop.
package core

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
)

// Destroyable is anything that releases its internal members.
type Destroyable interface {

	// Destroy destroys internal members
	Destroy()
}

// Instance describes a Vulkan instance and supporting methods.
// Once created it is ready to use.
type Instance interface {
	Destroyable

	// PhysicalDevicesInfo returns a struct for each Physical Device
	// along with info about those devices
	PhysicalDevicesInfo() []PhysicalDeviceInfo

	// AvailableDevices returns handles of Physical Devices
	// from the Vulkan API
	AvailableDevices() []vk.PhysicalDevice

	// SetSurface sets the window surface for rendering
	SetSurface(unsafe.Pointer)

	// Surface returns the window surface, if it's not set
	// it should return a valid but empty surface
	Surface() vk.Surface

	// Extensions returns available instance extensions
	Extensions() []string

	// Handle returns the raw vk.Instance
	Handle() vk.Instance
}

// Renderer describes the rendering machinery.
// It's created only with internal values set,
// it needs to be initialised with Initialise() before use.
type Renderer interface {
	Destroyable

	// Initialise sets up the configured rendering pipeline
	Initialise() error

	// DeviceIsSuitable checks if the device given is suitable
	// for the rendering pipeline. If not suitable string contains the reason
	DeviceIsSuitable(vk.PhysicalDevice) (bool, string)

	// DrawFrame schedules, submits and presents a single frame
	DrawFrame() error
}

// Shader describes a shader module loaded from a compiled binary.
type Shader interface {
	Destroyable

	// Type returns the pipeline stage the shader was built for
	Type() ShaderType

	// Name returns the name the shader is identified by
	Name() string

	// ShaderModule is an accessor to the underlying API shader handle
	ShaderModule() interface{}
}

// ShaderType represents the type of shader thats loaded
type ShaderType int

// Identifies shader objects with their types
const (
	VertexShaderType ShaderType = iota
	FragmentShaderType
	UnknownShaderType
)

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint
}
