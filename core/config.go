// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "time"

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Instance InstanceConfiguration
	Renderer RendererConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the delay between event loop polls,
	// in milliseconds
	EventPollDelay int
}

// InstanceConfiguration is used to configure the Vulkan instance
type InstanceConfiguration struct {
	DebugMode  bool
	Extensions []string
	Layers     []string
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// SwapchainSize is the requested number of presentable images.
	// The surface capabilities may override it in either direction.
	SwapchainSize uint32

	// FramesInFlight is the number of frames recorded on the CPU
	// before blocking on the GPU. Defaults to DefaultFramesInFlight
	// when zero.
	FramesInFlight uint32

	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	// ShaderDirectory holds compiled .vert.spv/.frag.spv pairs
	ShaderDirectory string

	// ShaderSources holds compiled SPIR-V binaries embedded into the
	// binary, keyed by file name. Takes precedence over
	// ShaderDirectory when non-empty.
	ShaderSources map[string][]byte

	// FrameTimeout bounds the in-flight fence wait. An expired wait
	// is treated as a lost device. Defaults to DefaultFrameTimeout
	// when zero.
	FrameTimeout time.Duration
}
