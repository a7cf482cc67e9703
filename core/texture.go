// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	vk "github.com/devblok/vulkan"
	"github.com/devblok/vermeer/gfx/vkr"
)

// MipLevels returns the length of the full mip chain for a base image,
// the count of halvings until both dimensions reach one, plus the base.
func MipLevels(width, height uint32) uint32 {
	levels := uint32(1)
	for width > 1 || height > 1 {
		if width > 1 {
			width /= 2
		}
		if height > 1 {
			height /= 2
		}
		levels++
	}
	return levels
}

// MipExtent returns the dimensions of the given mip level. Each level
// halves the previous one, rounding down, and never drops below one.
func MipExtent(width, height, level uint32) (uint32, uint32) {
	w := width >> level
	h := height >> level
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// TextureCreateInfo configures BuildTexture. Pixels must hold tightly
// packed rows of Width*Height texels in the given format.
type TextureCreateInfo struct {
	Width  uint32
	Height uint32
	Format vk.Format
	Pixels []byte

	// SkipMips leaves the texture with a single level, for UI and
	// data textures that are always sampled at native resolution.
	SkipMips bool
}

// Texture is a sampled image with its full mip chain, view and sampler,
// ready to be bound to a descriptor set.
type Texture struct {
	ctx       *DeviceContext
	image     vkr.Image
	view      vk.ImageView
	sampler   vk.Sampler
	mipLevels uint32
}

// View returns the image view covering all mip levels.
func (t *Texture) View() vk.ImageView {
	return t.view
}

// Sampler returns the sampler configured for the texture's mip chain.
func (t *Texture) Sampler() vk.Sampler {
	return t.sampler
}

// MipLevels returns the number of levels the texture was built with.
func (t *Texture) MipLevels() uint32 {
	return t.mipLevels
}

// Destroy implements interface
func (t *Texture) Destroy() {
	vk.DestroySampler(t.ctx.Device(), t.sampler, nil)
	vk.DestroyImageView(t.ctx.Device(), t.view, nil)
	t.image.Release()
}

// supportsLinearBlit reports whether the device can blit the format
// with linear filtering, which mip generation depends on.
func supportsLinearBlit(phyDevice vk.PhysicalDevice, format vk.Format) bool {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(phyDevice, format, &props)
	props.Deref()
	return props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureSampledImageFilterLinearBit) != 0
}

// BuildTexture uploads pixel data into a device local image and
// generates its mip chain on the transfer queue. The upload runs on a
// one-shot command buffer and blocks until the GPU is done, callers
// are expected to build textures at startup or on asset reloads, not
// inside the frame loop.
func BuildTexture(ctx *DeviceContext, info TextureCreateInfo) (*Texture, error) {
	mipLevels := MipLevels(info.Width, info.Height)
	if info.SkipMips {
		mipLevels = 1
	}
	if mipLevels > 1 && !supportsLinearBlit(ctx.PhysicalDevice(), info.Format) {
		return nil, fmt.Errorf("%w: format %d", ErrUnsupportedBlitFormat, info.Format)
	}

	usage := vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit
	if mipLevels > 1 {
		usage |= vk.ImageUsageTransferSrcBit
	}

	image, err := vkr.NewImage(ctx.Device(), vkr.ImageCreateInfo{
		Width:     info.Width,
		Height:    info.Height,
		MipLevels: mipLevels,
		Format:    info.Format,
		Tiling:    vk.ImageTilingOptimal,
		Usage:     usage,
	}, ctx.Allocator())
	if err != nil {
		return nil, err
	}

	staging, err := vkr.NewBuffer(ctx.Device(), uint(len(info.Pixels)), vk.BufferUsageTransferSrcBit, true, ctx.Allocator())
	if err != nil {
		image.Release()
		return nil, err
	}
	defer staging.Release()

	if err := staging.Write(0, info.Pixels); err != nil {
		image.Release()
		return nil, err
	}

	cmd, err := ctx.beginOneShot()
	if err != nil {
		image.Release()
		return nil, err
	}

	transitionMipLevels(cmd, image.Handle(), 0, mipLevels,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessFlags(vk.AccessTransferWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	bic := vk.BufferImageCopy{
		ImageOffset: vk.Offset3D{},
		ImageExtent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdCopyBufferToImage(cmd, staging.Handle(), image.Handle(), vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{bic})

	if mipLevels > 1 {
		recordMipChain(cmd, image.Handle(), info.Width, info.Height, mipLevels)
	} else {
		transitionMipLevels(cmd, image.Handle(), 0, 1,
			vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	}

	if err := ctx.endOneShot(cmd); err != nil {
		image.Release()
		return nil, err
	}

	view, err := newTextureView(ctx.Device(), image.Handle(), info.Format, mipLevels)
	if err != nil {
		image.Release()
		return nil, err
	}

	sampler, err := newTextureSampler(ctx.Device(), mipLevels)
	if err != nil {
		vk.DestroyImageView(ctx.Device(), view, nil)
		image.Release()
		return nil, err
	}

	return &Texture{
		ctx:       ctx,
		image:     image,
		view:      view,
		sampler:   sampler,
		mipLevels: mipLevels,
	}, nil
}

// transitionMipLevels records a layout transition barrier covering a
// range of mip levels of a color image.
func transitionMipLevels(cmd vk.CommandBuffer, img vk.Image, baseLevel, levelCount uint32,
	old, new vk.ImageLayout, srcAccess, dstAccess vk.AccessFlags, srcStage, dstStage vk.PipelineStageFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           old,
		NewLayout:           new,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   baseLevel,
			LevelCount:     levelCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// recordMipChain downsamples level 0 through the rest of the chain with
// linear blits. Every source level is flipped to the transfer source
// layout right before its blit and settles in the shader read layout
// after, the last level goes to shader read directly since nothing
// reads from it during generation.
func recordMipChain(cmd vk.CommandBuffer, img vk.Image, width, height, mipLevels uint32) {
	srcWidth, srcHeight := width, height
	for level := uint32(1); level < mipLevels; level++ {
		transitionMipLevels(cmd, img, level-1, 1,
			vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessTransferReadBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))

		dstWidth, dstHeight := MipExtent(width, height, level)
		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       level - 1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcOffsets: [2]vk.Offset3D{
				{},
				{X: int32(srcWidth), Y: int32(srcHeight), Z: 1},
			},
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       level,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			DstOffsets: [2]vk.Offset3D{
				{},
				{X: int32(dstWidth), Y: int32(dstHeight), Z: 1},
			},
		}
		vk.CmdBlitImage(cmd, img, vk.ImageLayoutTransferSrcOptimal, img, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{blit}, vk.FilterLinear)

		transitionMipLevels(cmd, img, level-1, 1,
			vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessFlags(vk.AccessTransferReadBit), vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))

		srcWidth, srcHeight = dstWidth, dstHeight
	}

	transitionMipLevels(cmd, img, mipLevels-1, 1,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
}

func newTextureView(device vk.Device, img vk.Image, format vk.Format, mipLevels uint32) (vk.ImageView, error) {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(device, &ivci, nil, &view)); err != nil {
		return vk.NullImageView, fmt.Errorf("vk.CreateImageView(): %s", err.Error())
	}
	return view, nil
}

func newTextureSampler(device vk.Device, mipLevels uint32) (vk.Sampler, error) {
	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           16,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MinLod:                  0,
		MaxLod:                  float32(mipLevels),
	}

	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(device, &sci, nil, &sampler)); err != nil {
		return vk.NullSampler, fmt.Errorf("vk.CreateSampler(): %s", err.Error())
	}
	return sampler, nil
}
