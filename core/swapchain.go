// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"math"

	vk "github.com/devblok/vulkan"
	"github.com/devblok/vermeer/gfx/vkr"
	"github.com/sirupsen/logrus"
)

// SwapchainSupport bundles what the surface reports for a physical device.
// Capabilities and formats come out dereferenced and ready to read.
type SwapchainSupport struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// QuerySwapchainSupport reads surface capabilities, formats and present
// modes for the given device and surface.
func QuerySwapchainSupport(device vk.PhysicalDevice, surface vk.Surface) (SwapchainSupport, error) {
	var support SwapchainSupport

	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &support.Capabilities)); err != nil {
		return support, errors.New("vk.GetPhysicalDeviceSurfaceCapabilities(): " + err.Error())
	}
	support.Capabilities.Deref()
	support.Capabilities.CurrentExtent.Deref()
	support.Capabilities.MinImageExtent.Deref()
	support.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil)); err != nil {
		return support, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	support.Formats = make([]vk.SurfaceFormat, formatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, support.Formats)); err != nil {
		return support, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	for idx := range support.Formats {
		support.Formats[idx].Deref()
	}

	var modeCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, nil)); err != nil {
		return support, errors.New("vk.GetPhysicalDeviceSurfacePresentModes(): " + err.Error())
	}
	support.PresentModes = make([]vk.PresentMode, modeCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, support.PresentModes)); err != nil {
		return support, errors.New("vk.GetPhysicalDeviceSurfacePresentModes(): " + err.Error())
	}

	return support, nil
}

// ChooseSurfaceFormat picks the first format matching the preferred
// format and colorspace pair, or the first reported format otherwise.
// An empty list yields the zero value, with FormatUndefined.
func ChooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Srgb && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	if len(formats) == 0 {
		return vk.SurfaceFormat{}
	}
	return formats[0]
}

// ChoosePresentMode prefers mailbox and falls back to fifo, which every
// implementation guarantees.
func ChoosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

// ChooseImageCount raises the requested image count to the surface
// minimum and clamps it to the surface maximum when one is reported.
func ChooseImageCount(requested, surfaceMin, surfaceMax uint32) uint32 {
	count := requested
	if count < surfaceMin {
		count = surfaceMin
	}
	if surfaceMax != 0 && count > surfaceMax {
		count = surfaceMax
	}
	return count
}

// ChooseExtent resolves the swapchain extent. When the surface pins the
// extent it wins, otherwise the drawable size is clamped to the
// supported range.
func ChooseExtent(current, min, max vk.Extent2D, drawableWidth, drawableHeight uint32) vk.Extent2D {
	if current.Width != math.MaxUint32 {
		return current
	}

	extent := vk.Extent2D{Width: drawableWidth, Height: drawableHeight}
	if extent.Width < min.Width {
		extent.Width = min.Width
	}
	if extent.Width > max.Width {
		extent.Width = max.Width
	}
	if extent.Height < min.Height {
		extent.Height = min.Height
	}
	if extent.Height > max.Height {
		extent.Height = max.Height
	}
	return extent
}

// NewSwapchain creates the presentable image chain with its image views,
// depth buffer, render pass and framebuffers.
func NewSwapchain(ctx *DeviceContext, surface vk.Surface, cfg RendererConfiguration) (*Swapchain, error) {
	s := &Swapchain{
		ctx:     ctx,
		surface: surface,
		cfg:     cfg,
	}
	if err := s.create(cfg.ScreenWidth, cfg.ScreenHeight, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Swapchain owns the presentable image chain and everything derived from
// it. It rebuilds itself when the surface signals out of date.
type Swapchain struct {
	ctx     *DeviceContext
	surface vk.Surface
	cfg     RendererConfiguration

	swapchain    vk.Swapchain
	images       []vk.Image
	imageViews   []vk.ImageView
	framebuffers []vk.Framebuffer

	renderPass vk.RenderPass

	depthImage  vkr.Image
	depthView   vk.ImageView
	depthFormat vk.Format

	format     vk.Format
	colorSpace vk.ColorSpace
	extent     vk.Extent2D

	stale     bool
	destroyed bool
}

func (s *Swapchain) create(drawableWidth, drawableHeight uint32, oldSwapchain vk.Swapchain) error {
	support, err := QuerySwapchainSupport(s.ctx.PhysicalDevice(), s.surface)
	if err != nil {
		return err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return errors.New("surface reports no formats or present modes")
	}

	surfaceFormat := ChooseSurfaceFormat(support.Formats)
	presentMode := ChoosePresentMode(support.PresentModes)
	imageCount := ChooseImageCount(s.cfg.SwapchainSize, support.Capabilities.MinImageCount, support.Capabilities.MaxImageCount)
	extent := ChooseExtent(support.Capabilities.CurrentExtent, support.Capabilities.MinImageExtent, support.Capabilities.MaxImageExtent, drawableWidth, drawableHeight)

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if support.Capabilities.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     oldSwapchain,
	}

	if s.ctx.GraphicsFamily() != s.ctx.PresentFamily() {
		scci.ImageSharingMode = vk.SharingModeConcurrent
		scci.QueueFamilyIndexCount = 2
		scci.PQueueFamilyIndices = []uint32{s.ctx.GraphicsFamily(), s.ctx.PresentFamily()}
	}

	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(s.ctx.Device(), &scci, nil, &swapchain)); err != nil {
		return errors.New("vk.CreateSwapchain(): " + err.Error())
	}
	if oldSwapchain != nil {
		vk.DestroySwapchain(s.ctx.Device(), oldSwapchain, nil)
	}
	s.swapchain = swapchain
	s.format = surfaceFormat.Format
	s.colorSpace = surfaceFormat.ColorSpace
	s.extent = extent

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(s.ctx.Device(), s.swapchain, &numImages, nil)); err != nil {
		return errors.New("vk.GetSwapchainImages(num): " + err.Error())
	}
	s.images = make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(s.ctx.Device(), s.swapchain, &numImages, s.images)); err != nil {
		return errors.New("vk.GetSwapchainImages(images): " + err.Error())
	}

	if err := s.createImageViews(); err != nil {
		return err
	}
	if err := s.createDepthResources(); err != nil {
		return err
	}
	if err := s.createRenderPass(); err != nil {
		return err
	}
	if err := s.createFramebuffers(); err != nil {
		return err
	}

	s.stale = false
	return nil
}

func (s *Swapchain) createImageViews() error {
	s.imageViews = make([]vk.ImageView, 0, len(s.images))
	for idx := range s.images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    s.images[idx],
			ViewType: vk.ImageViewType2d,
			Format:   s.format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}

		var imageView vk.ImageView
		if err := vk.Error(vk.CreateImageView(s.ctx.Device(), &ivci, nil, &imageView)); err != nil {
			return fmt.Errorf("vk.CreateImageView()[%d]: %s", idx, err.Error())
		}
		s.imageViews = append(s.imageViews, imageView)
	}
	return nil
}

func (s *Swapchain) createDepthResources() error {
	s.depthFormat = vk.FormatD16Unorm

	image, err := vkr.NewImage(s.ctx.Device(), vkr.ImageCreateInfo{
		Width:     s.extent.Width,
		Height:    s.extent.Height,
		MipLevels: 1,
		Format:    s.depthFormat,
		Tiling:    vk.ImageTilingOptimal,
		Usage:     vk.ImageUsageDepthStencilAttachmentBit,
	}, s.ctx.Allocator())
	if err != nil {
		return err
	}
	s.depthImage = image

	ivci := vk.ImageViewCreateInfo{
		SType:  vk.StructureTypeImageViewCreateInfo,
		Format: s.depthFormat,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
		ViewType: vk.ImageViewType2d,
		Image:    image.Handle(),
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(s.ctx.Device(), &ivci, nil, &view)); err != nil {
		return errors.New("vk.CreateImageView(): " + err.Error())
	}
	s.depthView = view
	return nil
}

func (s *Swapchain) createRenderPass() error {
	attachments := []vk.AttachmentDescription{
		{
			Format:         s.format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		},
		{
			Format:         s.depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}

	depthAttachmentRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorAttachmentRef)),
		PColorAttachments:       colorAttachmentRef,
		PDepthStencilAttachment: &depthAttachmentRef,
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(s.ctx.Device(), &rpci, nil, &renderPass)); err != nil {
		return errors.New("vk.CreateRenderPass(): " + err.Error())
	}
	s.renderPass = renderPass
	return nil
}

func (s *Swapchain) createFramebuffers() error {
	s.framebuffers = make([]vk.Framebuffer, 0, len(s.imageViews))
	for _, view := range s.imageViews {
		attachments := []vk.ImageView{
			view,
			s.depthView,
		}
		fci := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}

		var framebuffer vk.Framebuffer
		if err := vk.Error(vk.CreateFramebuffer(s.ctx.Device(), &fci, nil, &framebuffer)); err != nil {
			return errors.New("vk.CreateFramebuffer(): " + err.Error())
		}
		s.framebuffers = append(s.framebuffers, framebuffer)
	}
	return nil
}

// releaseDerived destroys everything recreated on rebuild. The swapchain
// handle itself is recycled through OldSwapchain, the surface is reused.
func (s *Swapchain) releaseDerived() {
	for _, fb := range s.framebuffers {
		vk.DestroyFramebuffer(s.ctx.Device(), fb, nil)
	}
	s.framebuffers = nil

	for _, view := range s.imageViews {
		vk.DestroyImageView(s.ctx.Device(), view, nil)
	}
	s.imageViews = nil
	s.images = nil

	vk.DestroyImageView(s.ctx.Device(), s.depthView, nil)
	s.depthImage.Release()

	vk.DestroyRenderPass(s.ctx.Device(), s.renderPass, nil)
}

// AcquireNextImage acquires the next presentable image, signaling the
// given semaphore when the image is usable. Out of date and suboptimal
// surfaces mark the swapchain stale and surface ErrSwapchainStale, the
// caller rebuilds and skips the frame.
func (s *Swapchain) AcquireNextImage(timeout uint64, semaphore vk.Semaphore) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(s.ctx.Device(), s.swapchain, uint(timeout), semaphore, vk.NullFence, &imageIndex)
	switch result {
	case vk.ErrorOutOfDate, vk.Suboptimal:
		s.stale = true
		return 0, ErrSwapchainStale
	case vk.Timeout:
		return 0, ErrDeviceLost
	}
	if err := vk.Error(result); err != nil {
		return 0, errors.New("vk.AcquireNextImage(): " + err.Error())
	}
	return imageIndex, nil
}

// MarkStale flags the swapchain for rebuild, used when presentation
// reports an out of date surface.
func (s *Swapchain) MarkStale() {
	s.stale = true
}

// Stale tells if the swapchain needs a rebuild before the next acquire.
func (s *Swapchain) Stale() bool {
	return s.stale
}

// Rebuild waits for the device to go idle, tears down views, depth
// resources and framebuffers and recreates the chain for the given
// drawable size. Safe to call repeatedly with the same extent.
func (s *Swapchain) Rebuild(drawableWidth, drawableHeight uint32) error {
	s.ctx.WaitIdle()

	logrus.WithFields(logrus.Fields{
		"width":  drawableWidth,
		"height": drawableHeight,
	}).Info("rebuilding swapchain")

	s.releaseDerived()
	return s.create(drawableWidth, drawableHeight, s.swapchain)
}

// Handle returns the raw swapchain handle.
func (s *Swapchain) Handle() vk.Swapchain {
	return s.swapchain
}

// RenderPass returns the render pass matching the chain's formats.
func (s *Swapchain) RenderPass() vk.RenderPass {
	return s.renderPass
}

// Framebuffer returns the framebuffer for the given image index.
func (s *Swapchain) Framebuffer(imageIndex uint32) vk.Framebuffer {
	return s.framebuffers[imageIndex]
}

// Extent returns the current swapchain extent.
func (s *Swapchain) Extent() vk.Extent2D {
	return s.extent
}

// Format returns the swapchain image format.
func (s *Swapchain) Format() vk.Format {
	return s.format
}

// ImageCount returns the number of presentable images in the chain.
func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

// Destroy implements interface
func (s *Swapchain) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.releaseDerived()
	vk.DestroySwapchain(s.ctx.Device(), s.swapchain, nil)
}
