// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "errors"

// Fatal conditions. When one of these surfaces the caller is expected
// to stop rendering and tear the renderer down in draining order.
var (
	// ErrNoSuitableDevice means no physical device satisfies the queue,
	// surface and feature requirements of the renderer.
	ErrNoSuitableDevice = errors.New("core: no suitable physical device")

	// ErrDeviceLost means the device stopped responding, detected by
	// an expired in-flight fence wait or a device-lost result.
	ErrDeviceLost = errors.New("core: device lost")

	// ErrBindingMismatch means a shader set declares descriptor bindings
	// that do not structurally match the pipeline's descriptor layout.
	ErrBindingMismatch = errors.New("core: shader bindings do not match descriptor layout")

	// ErrUnsupportedBlitFormat means the texture format does not support
	// linear blit filtering, so a mip chain cannot be generated.
	ErrUnsupportedBlitFormat = errors.New("core: image format does not support linear blitting")
)

// Recoverable conditions, handled inside the renderer.
var (
	// ErrSwapchainStale means the swapchain no longer matches the surface
	// and must be rebuilt before the next acquisition. It never escapes
	// the frame scheduler.
	ErrSwapchainStale = errors.New("core: swapchain out of date")
)

// Caller precondition violations.
var (
	// ErrNotInitialised means an operation was attempted before
	// Initialise completed.
	ErrNotInitialised = errors.New("core: renderer not initialised")
)
