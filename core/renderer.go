// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"image"
	"sync"
	"unsafe"

	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vermeer/gfx/vkr"
	"github.com/devblok/vermeer/model"
)

// NewVulkanRenderer creates the renderer in an uninitialised state.
// Initialise picks a device and builds the full pipeline.
func NewVulkanRenderer(instance Instance, cfg RendererConfiguration) *VulkanRenderer {
	return &VulkanRenderer{
		instance: instance,
		cfg:      cfg,

		currentWidth:  cfg.ScreenWidth,
		currentHeight: cfg.ScreenHeight,
	}
}

// Mesh is a device resident model ready for drawing.
type Mesh struct {
	vertex      vkr.Buffer
	index       vkr.Buffer
	indexCount  uint32
	vertexCount uint32
	indexed     bool

	texture *Texture
}

// SetTexture points the mesh at a different texture. Takes effect on
// the next recorded frame.
func (m *Mesh) SetTexture(texture *Texture) {
	m.texture = texture
}

func (m *Mesh) release() {
	m.vertex.Release()
	if m.indexed {
		m.index.Release()
	}
}

// VulkanRenderer ties the device, swapchain, pipeline cache and frame
// scheduler together behind the Renderer interface.
type VulkanRenderer struct {
	instance Instance
	cfg      RendererConfiguration

	ctx       *DeviceContext
	swapchain *Swapchain
	cache     *PipelineCache
	frames    *FrameScheduler

	shaderSets []*ShaderSet
	pipeline   *Pipeline

	meshLock sync.RWMutex
	meshes   []*Mesh
	textures []*Texture

	framerate *Framerate

	currentWidth  uint32
	currentHeight uint32

	rotation float32

	initialised bool
}

// DeviceIsSuitable implements interface
func (v *VulkanRenderer) DeviceIsSuitable(device vk.PhysicalDevice) (bool, string) {
	ok, reason := deviceSuitable(device, v.instance.Surface())
	return ok, reason
}

// Initialise implements interface
func (v *VulkanRenderer) Initialise() error {
	var selected vk.PhysicalDevice
	for _, device := range v.instance.AvailableDevices() {
		if ok, reason := v.DeviceIsSuitable(device); ok {
			selected = device
			break
		} else {
			logrus.WithField("reason", reason).Debug("skipping physical device")
		}
	}
	if selected == nil {
		return ErrNoSuitableDevice
	}

	ctx, err := NewDeviceContext(selected, v.instance.Surface(), v.cfg)
	if err != nil {
		return err
	}
	v.ctx = ctx

	swapchain, err := NewSwapchain(ctx, v.instance.Surface(), v.cfg)
	if err != nil {
		ctx.Destroy()
		return err
	}
	v.swapchain = swapchain

	cache, err := NewPipelineCache(ctx, swapchain.RenderPass(), v.framesInFlight())
	if err != nil {
		v.teardown()
		return err
	}
	v.cache = cache

	var shaderSets []*ShaderSet
	if len(v.cfg.ShaderSources) > 0 {
		shaderSets, err = LoadShaderSetsFromSources(ctx.Device(), v.cfg.ShaderSources)
	} else {
		shaderSets, err = LoadShaderSets(ctx.Device(), v.cfg.ShaderDirectory)
	}
	if err != nil {
		v.teardown()
		return err
	}
	v.shaderSets = shaderSets

	layout := VertexLayout{
		ID:         "model",
		Bindings:   model.VertexBindingDescriptions(),
		Attributes: model.VertexAttributeDescriptions(),
	}
	for _, set := range shaderSets {
		pipeline, err := cache.GetOrBuild(set, layout)
		if err != nil {
			v.teardown()
			return err
		}
		if v.pipeline == nil {
			v.pipeline = pipeline
		}
	}

	frames, err := NewFrameScheduler(ctx, swapchain, cache, v.cfg, uint(unsafe.Sizeof(model.Uniform{})))
	if err != nil {
		v.teardown()
		return err
	}
	v.frames = frames

	v.framerate = NewFramerate()
	v.initialised = true

	logrus.WithFields(logrus.Fields{
		"images":  swapchain.ImageCount(),
		"frames":  v.framesInFlight(),
		"shaders": len(shaderSets),
	}).Info("renderer initialised")
	return nil
}

func (v *VulkanRenderer) framesInFlight() uint32 {
	if v.cfg.FramesInFlight == 0 {
		return DefaultFramesInFlight
	}
	return v.cfg.FramesInFlight
}

// LoadMesh uploads vertices and optional indices into device local
// buffers through a staging copy. Blocks until the GPU owns the data.
func (v *VulkanRenderer) LoadMesh(vertices []model.Vertex, indices []uint32, texture *Texture) (*Mesh, error) {
	if !v.initialised {
		return nil, ErrNotInitialised
	}

	vertexData := *(*[]byte)(unsafe.Pointer(&sliceHeader{
		Data: uintptr(unsafe.Pointer(&vertices[0])),
		Len:  len(vertices) * int(unsafe.Sizeof(model.Vertex{})),
		Cap:  len(vertices) * int(unsafe.Sizeof(model.Vertex{})),
	}))

	vertexBuffer, err := vkr.NewBuffer(v.ctx.Device(), uint(len(vertexData)),
		vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit, false, v.ctx.Allocator())
	if err != nil {
		return nil, err
	}
	if err := v.ctx.UploadViaStaging(&vertexBuffer, vertexData); err != nil {
		vertexBuffer.Release()
		return nil, err
	}

	mesh := &Mesh{
		vertex:      vertexBuffer,
		vertexCount: uint32(len(vertices)),
		texture:     texture,
	}

	if len(indices) > 0 {
		indexData := *(*[]byte)(unsafe.Pointer(&sliceHeader{
			Data: uintptr(unsafe.Pointer(&indices[0])),
			Len:  len(indices) * 4,
			Cap:  len(indices) * 4,
		}))

		indexBuffer, err := vkr.NewBuffer(v.ctx.Device(), uint(len(indexData)),
			vk.BufferUsageIndexBufferBit|vk.BufferUsageTransferDstBit, false, v.ctx.Allocator())
		if err != nil {
			vertexBuffer.Release()
			return nil, err
		}
		if err := v.ctx.UploadViaStaging(&indexBuffer, indexData); err != nil {
			indexBuffer.Release()
			vertexBuffer.Release()
			return nil, err
		}
		mesh.index = indexBuffer
		mesh.indexCount = uint32(len(indices))
		mesh.indexed = true
	}

	v.meshLock.Lock()
	v.meshes = append(v.meshes, mesh)
	v.meshLock.Unlock()
	return mesh, nil
}

// LoadTexture decodes the image into RGBA and builds a mipmapped
// device texture from it.
func (v *VulkanRenderer) LoadTexture(img image.Image) (*Texture, error) {
	if !v.initialised {
		return nil, ErrNotInitialised
	}

	bounds := img.Bounds()
	pixels, err := GetPixels(img, 4*bounds.Dx())
	if err != nil {
		return nil, err
	}
	texture, err := BuildTexture(v.ctx, TextureCreateInfo{
		Width:  uint32(bounds.Max.X),
		Height: uint32(bounds.Max.Y),
		Format: vk.FormatR8g8b8a8Unorm,
		Pixels: pixels,
	})
	if err != nil {
		return nil, err
	}
	v.textures = append(v.textures, texture)
	return texture, nil
}

// Resize records the new drawable size and flags the swapchain for a
// rebuild on the next frame.
func (v *VulkanRenderer) Resize(width, height uint32) {
	v.currentWidth = width
	v.currentHeight = height
	if v.swapchain != nil {
		v.swapchain.MarkStale()
	}
}

// Framerate returns the presented frame counter.
func (v *VulkanRenderer) Framerate() *Framerate {
	return v.framerate
}

// DrawFrame implements interface
func (v *VulkanRenderer) DrawFrame() error {
	if !v.initialised {
		return ErrNotInitialised
	}

	v.rotation += 0.005
	extent := v.swapchain.Extent()
	ubo := model.Uniform{
		Model:      glm.HomogRotate3DZ(v.rotation),
		View:       glm.LookAt(2, 2, 2, 0, 0, 0, 0, 0, 1),
		Projection: glm.Perspective(45, (float32)(extent.Width)/(float32)(extent.Height), 0.1, 10),
	}
	ubo.Projection[5] *= -1 // Flip from OpenGl to Vulkan projection

	v.meshLock.RLock()
	commands := make([]DrawCommand, 0, len(v.meshes))
	for _, mesh := range v.meshes {
		cmd := DrawCommand{
			Pipeline:    v.pipeline,
			Texture:     mesh.texture,
			Vertex:      &mesh.vertex,
			VertexCount: mesh.vertexCount,
		}
		if mesh.indexed {
			cmd.Index = &mesh.index
			cmd.IndexCount = mesh.indexCount
		}
		commands = append(commands, cmd)
	}
	v.meshLock.RUnlock()

	uniform := uniformBytes(unsafe.Pointer(&ubo), unsafe.Sizeof(ubo))
	if err := v.frames.DrawFrame(uniform, commands, v.currentWidth, v.currentHeight); err != nil {
		return err
	}

	v.framerate.Update()
	return nil
}

func (v *VulkanRenderer) teardown() {
	if v.frames != nil {
		v.frames.Destroy()
		v.frames = nil
	}

	v.meshLock.Lock()
	for _, mesh := range v.meshes {
		mesh.release()
	}
	v.meshes = nil
	v.meshLock.Unlock()

	for _, texture := range v.textures {
		texture.Destroy()
	}
	v.textures = nil

	for _, set := range v.shaderSets {
		set.Destroy()
	}
	v.shaderSets = nil

	if v.cache != nil {
		v.cache.Destroy()
		v.cache = nil
	}
	if v.swapchain != nil {
		v.swapchain.Destroy()
		v.swapchain = nil
	}
	if v.ctx != nil {
		v.ctx.Destroy()
		v.ctx = nil
	}
}

// Destroy implements interface
func (v *VulkanRenderer) Destroy() {
	if v.ctx != nil {
		v.ctx.WaitIdle()
	}
	v.initialised = false
	v.teardown()
}
