// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/shaderflow/cache"
)

// DeviceHandle provides GPU device access from the host application.
//
// The host owns the device; the Manager receives it and never destroys
// resources it did not create. Providers that additionally implement
// HalDevice() any and HalQueue() any expose the raw HAL objects the
// Manager renders with.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider so any provider
// from the gpucontext ecosystem can be passed directly.
type DeviceHandle = gpucontext.DeviceProvider

// NullDeviceHandle is a DeviceHandle with nil implementations. A Manager
// built on it runs in logical mode: all bookkeeping, compilation, and
// CPU pixel operations work, but nothing touches a GPU.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns the zero format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat { return 0 }

// AdapterInfo returns empty adapter metadata for the null device.
func (NullDeviceHandle) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{} }

// DefaultProgramCacheSize bounds the compiled-program cache when the
// config does not say otherwise.
const DefaultProgramCacheSize = 256

// MaxImageDim is the largest accepted width or height for an Image.
const MaxImageDim = 16384

// ManagerConfig configures a Manager. The zero value gives a logical
// (no-GPU) manager with default cache sizing.
type ManagerConfig struct {
	// Devices supplies the GPU device from the host. Providers that
	// expose HAL objects (HalDevice/HalQueue) enable GPU rendering;
	// nil or NullDeviceHandle selects logical mode.
	Devices DeviceHandle

	// OpenDevice makes the Manager create its own Vulkan device when
	// Devices supplies none. Used by standalone tools; hosts that
	// already own a device should pass it through Devices instead.
	OpenDevice bool

	// ProgramCacheSize bounds the compiled-program LRU.
	// Zero means DefaultProgramCacheSize.
	ProgramCacheSize int
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	Images          int
	Programs        int
	Compiles        uint64
	CompileFailures uint64
	Renders         uint64
	Readbacks       uint64
	Uploads         uint64
}

// Manager owns every GPU-facing resource of the engine: images and their
// textures, compiled programs, the shared sampler, and (optionally) the
// device itself. All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	closed bool

	instance   hal.Instance
	device     hal.Device
	queue      hal.Queue
	ownsDevice bool

	sampler     hal.Sampler
	placeholder *Image

	images   map[*Image]struct{}
	programs *cache.LRU[string, *Program]

	stats counters
}

type counters struct {
	compiles        atomic.Uint64
	compileFailures atomic.Uint64
	renders         atomic.Uint64
	readbacks       atomic.Uint64
	uploads         atomic.Uint64
}

// opaqueBlack fills the placeholder image bound to texture uniforms with
// no live input, so an unconnected sampler reads a defined value.
var opaqueBlack = color.RGBA{A: 255}

// NewManager builds a Manager for the given config.
//
// Device resolution order: a provider exposing HAL objects wins; otherwise
// OpenDevice attempts a Vulkan self-open; otherwise the manager runs in
// logical mode. Self-open failure is not fatal, it degrades to logical
// mode with a log line, matching how a host without a GPU should behave.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		images: make(map[*Image]struct{}),
	}

	size := cfg.ProgramCacheSize
	if size <= 0 {
		size = DefaultProgramCacheSize
	}
	m.programs = cache.New(size, func(_ string, p *Program) {
		p.release(m.device)
	})

	if cfg.Devices != nil {
		if dev, q, ok := extractHAL(cfg.Devices); ok {
			m.device = dev
			m.queue = q
		}
	}
	if m.device == nil && cfg.OpenDevice {
		if err := m.openDevice(); err != nil {
			logger().Warn("GPU open failed, running in logical mode", slog.Any("error", err))
		}
	}

	if m.device != nil {
		if err := m.initShared(); err != nil {
			m.Close()
			return nil, err
		}
	}
	logger().Debug("manager created", slog.Bool("gpu", m.device != nil))
	return m, nil
}

// extractHAL pulls raw HAL objects out of a provider that carries them.
func extractHAL(provider DeviceHandle) (hal.Device, hal.Queue, bool) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, false
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, false
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, false
	}
	return device, queue, true
}

// openDevice creates a private Vulkan device.
func (m *Manager) openDevice() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("open device: %w", err)
	}
	m.instance = instance
	m.device = openDev.Device
	m.queue = openDev.Queue
	m.ownsDevice = true
	logger().Info("GPU device opened", slog.String("adapter", selected.Info.Name))
	return nil
}

// initShared creates the resources every render pass shares: the
// filtering sampler and the 1x1 placeholder bound to texture uniforms
// that have no live input.
func (m *Manager) initShared() error {
	sampler, err := m.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "shared sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("create sampler: %w", err)
	}
	m.sampler = sampler

	placeholder, err := m.CreateImage(1, 1, "placeholder")
	if err != nil {
		return err
	}
	placeholder.Set(0, 0, opaqueBlack)
	m.placeholder = placeholder
	return nil
}

// CreateImage allocates a width x height RGBA8 image, cleared to
// transparent zero. In GPU mode it also allocates the backing texture.
func (m *Manager) CreateImage(width, height int, label string) (*Image, error) {
	if width <= 0 || height <= 0 || width > MaxImageDim || height > MaxImageDim {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}

	img := &Image{
		width:  width,
		height: height,
		label:  label,
		pix:    make([]byte, width*height*4),
		mgr:    m,
	}
	if m.device != nil {
		tex, err := m.device.CreateTexture(&hal.TextureDescriptor{
			Label: label,
			Size: hal.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        gputypes.TextureFormatRGBA8Unorm,
			Usage: gputypes.TextureUsageTextureBinding |
				gputypes.TextureUsageRenderAttachment |
				gputypes.TextureUsageCopySrc |
				gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("create texture %q: %w", label, err)
		}
		img.tex = tex
		img.cpuDirty = true
	}
	m.images[img] = struct{}{}
	return img, nil
}

// releaseImage detaches an image and destroys its GPU objects.
// Called from Image.Release.
func (m *Manager) releaseImage(img *Image) {
	m.mu.Lock()
	delete(m.images, img)
	device := m.device
	m.mu.Unlock()

	if device != nil {
		if img.view != nil {
			device.DestroyTextureView(img.view)
			img.view = nil
		}
		if img.tex != nil {
			device.DestroyTexture(img.tex)
			img.tex = nil
		}
	}
	img.pix = nil
}

// CompileProgram compiles a WGSL program, reusing the cached build when
// an identical module source was compiled before. A compile failure
// returns a *CompileError carrying the compiler diagnostic; the cache is
// not polluted by failures.
func (m *Manager) CompileProgram(spec *ProgramSpec) (*Program, error) {
	if spec == nil {
		return nil, ErrNilProgram
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	return m.programs.GetOrCreate(spec.sourceKey(), func() (*Program, error) {
		return m.compile(spec)
	})
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	images := len(m.images)
	m.mu.Unlock()
	return Stats{
		Images:          images,
		Programs:        m.programs.Len(),
		Compiles:        m.stats.compiles.Load(),
		CompileFailures: m.stats.compileFailures.Load(),
		Renders:         m.stats.renders.Load(),
		Readbacks:       m.stats.readbacks.Load(),
		Uploads:         m.stats.uploads.Load(),
	}
}

// HasDevice reports whether the manager renders on a GPU. When false the
// manager is in logical mode and render operations only update
// bookkeeping and CPU mirrors.
func (m *Manager) HasDevice() bool { return m.device != nil }

// Close releases every image, every cached program, the shared
// resources, and the device if the manager opened it. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	imgs := make([]*Image, 0, len(m.images))
	for img := range m.images {
		imgs = append(imgs, img)
	}
	m.mu.Unlock()

	for _, img := range imgs {
		img.Release()
	}
	m.programs.Clear()

	if m.device != nil && m.sampler != nil {
		m.device.DestroySampler(m.sampler)
		m.sampler = nil
	}
	m.placeholder = nil

	if m.ownsDevice {
		if m.device != nil {
			m.device.Destroy()
		}
		if m.instance != nil {
			m.instance.Destroy()
		}
	}
	m.device = nil
	m.queue = nil
	m.instance = nil
}
