// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"image"
	"image/color"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/gobuffalo/envy"
	"github.com/gobuffalo/packr"
	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/devblok/vermeer/core"
	"github.com/devblok/vermeer/model"
)

func init() {
	runtime.LockOSThread()
}

// Essential globals
var (
	vkInstance core.Instance
	vkRenderer *core.VulkanRenderer
	sdlWindow  *sdl.Window
	sdlSurface unsafe.Pointer

	assets = packr.NewBox("./assets")
)

func envUint(key string, def uint32) uint32 {
	value, err := strconv.ParseUint(envy.Get(key, ""), 10, 32)
	if err != nil {
		return def
	}
	return uint32(value)
}

func buildConfiguration() core.Configuration {
	return core.Configuration{
		Time: core.TimeConfiguration{
			FramesPerSecond: int(envUint("VERMEER_FPS", 60)),
			EventPollDelay:  10,
		},
		Renderer: core.RendererConfiguration{
			ScreenWidth:     envUint("VERMEER_WIDTH", 800),
			ScreenHeight:    envUint("VERMEER_HEIGHT", 600),
			SwapchainSize:   envUint("VERMEER_SWAPCHAIN_SIZE", 3),
			FramesInFlight:  envUint("VERMEER_FRAMES_IN_FLIGHT", core.DefaultFramesInFlight),
			ShaderDirectory: envy.Get("VERMEER_SHADERS", "./shaders"),
			ShaderSources:   embeddedShaders(),
		},
	}
}

// embeddedShaders collects the compiled shaders bundled into the
// binary. The renderer falls back to the shader directory when no
// shaders were embedded, or when one is set explicitly.
func embeddedShaders() map[string][]byte {
	if envy.Get("VERMEER_SHADERS", "") != "" {
		return nil
	}

	sources := make(map[string][]byte)
	for _, name := range assets.List() {
		if strings.HasSuffix(name, ".spv") {
			sources[name] = assets.Bytes(name)
		}
	}
	return sources
}

func newWindow(cfg core.RendererConfiguration) *sdl.Window {
	window, err := sdl.CreateWindow("Vermeer",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create window")
	}
	return window
}

// loadTextureImage reads the embedded texture, falling back to a
// generated checkerboard when the asset is missing.
func loadTextureImage() image.Image {
	if data, err := assets.MustBytes("texture.png"); err == nil {
		img, _, decodeErr := image.Decode(bytes.NewReader(data))
		if decodeErr == nil {
			return img
		}
		logrus.WithError(decodeErr).Warn("embedded texture failed to decode")
	}

	const size = 256
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/32+y/32)%2 == 0 {
				img.Set(x, y, color.RGBA{R: 220, G: 220, B: 220, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
			}
		}
	}
	return img
}

func demoQuad() ([]model.Vertex, []uint32) {
	vertices := []model.Vertex{
		{Pos: glm.Vec3{-0.5, -0.5, 0}, Color: glm.Vec4{1, 1, 1, 1}, TexCoord: glm.Vec2{0, 0}},
		{Pos: glm.Vec3{0.5, -0.5, 0}, Color: glm.Vec4{1, 1, 1, 1}, TexCoord: glm.Vec2{1, 0}},
		{Pos: glm.Vec3{0.5, 0.5, 0}, Color: glm.Vec4{1, 1, 1, 1}, TexCoord: glm.Vec2{1, 1}},
		{Pos: glm.Vec3{-0.5, 0.5, 0}, Color: glm.Vec4{1, 1, 1, 1}, TexCoord: glm.Vec2{0, 1}},
	}
	indices := []uint32{0, 1, 2, 2, 3, 0}
	return vertices, indices
}

func main() {
	configuration := buildConfiguration()

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		logrus.WithError(err).Fatal("sdl init failed")
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		logrus.WithError(err).Fatal("vulkan library load failed")
	}
	defer sdl.VulkanUnloadLibrary()

	sdlWindow = newWindow(configuration.Renderer)
	defer sdlWindow.Destroy()

	{
		cfg := core.InstanceConfiguration{
			DebugMode:  envy.Get("VERMEER_DEBUG", "") != "",
			Extensions: sdlWindow.VulkanGetInstanceExtensions(),
			Layers:     []string{},
		}

		vi, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), cfg)
		if err != nil {
			logrus.WithError(err).Fatal("instance creation failed")
		}
		vkInstance = vi
	}

	for _, info := range vkInstance.PhysicalDevicesInfo() {
		if info.Invalid {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"name":   info.Name,
			"vendor": info.VendorID,
			"memory": info.Memory,
		}).Info("physical device")
	}

	if srf, err := sdlWindow.VulkanCreateSurface(vkInstance.Handle()); err != nil {
		logrus.WithError(err).Fatal("surface creation failed")
	} else {
		sdlSurface = srf
		vkInstance.SetSurface(sdlSurface)
	}

	vkRenderer = core.NewVulkanRenderer(vkInstance, configuration.Renderer)
	if err := vkRenderer.Initialise(); err != nil {
		logrus.WithError(err).Fatal("renderer initialisation failed")
	}

	texture, err := vkRenderer.LoadTexture(loadTextureImage())
	if err != nil {
		logrus.WithError(err).Fatal("texture upload failed")
	}

	vertices, indices := demoQuad()
	if _, err := vkRenderer.LoadMesh(vertices, indices, texture); err != nil {
		logrus.WithError(err).Fatal("mesh upload failed")
	}

	time := core.NewTime(configuration.Time)
	exitC := make(chan struct{}, 2)

EventLoop:
	for {
		select {
		case <-exitC:
			logrus.Info("event loop exited")
			break EventLoop
		case <-time.FpsTicker().C:
			var event sdl.Event
			for event = sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						exitC <- struct{}{}
						continue EventLoop
					}
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						vkRenderer.Resize(uint32(et.Data1), uint32(et.Data2))
					}
				case *sdl.QuitEvent:
					exitC <- struct{}{}
					continue EventLoop
				}
			}

			if err := vkRenderer.DrawFrame(); err != nil {
				logrus.WithError(err).Error("frame failed")
				exitC <- struct{}{}
				continue EventLoop
			}

			if count := vkRenderer.Framerate().Counter(); count > 0 && count%600 == 0 {
				logrus.WithField("fps", vkRenderer.Framerate().Fps()).Info("framerate")
			}
		}
	}

	vkRenderer.Destroy()
	vkInstance.Destroy()
}
