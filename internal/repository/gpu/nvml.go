package gpu

import (
	"context"
	"errors"
	"sync"

	"github.com/NVIDIA/go-nvlib/pkg/nvlib/device"
	nvinfo "github.com/NVIDIA/go-nvlib/pkg/nvlib/info"
	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// nvmlBinding implements NVMLBinding on the in-process NVML library.
// go-nvml loads libnvidia-ml at runtime, so the binary builds and runs on
// machines without the NVIDIA driver; Available reports false there and
// the adapter falls back to nvidia-smi.
type nvmlBinding struct {
	mu  sync.Mutex
	lib nvml.Interface

	checked   bool
	available bool
}

// NewNVMLBinding constructs the production NVMLBinding. Library detection
// and Init are deferred to the first Available call, so constructing it on
// an AMD-only or driverless machine costs nothing.
func NewNVMLBinding() NVMLBinding {
	return &nvmlBinding{lib: nvml.New()}
}

// Available probes for a usable NVML library once and caches the answer.
func (b *nvmlBinding) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.checked {
		return b.available
	}
	b.checked = true

	deviceLib := device.New(b.lib)
	infoLib := nvinfo.New(
		nvinfo.WithNvmlLib(b.lib),
		nvinfo.WithDeviceLib(deviceLib),
	)
	if hasNvml, _ := infoLib.HasNvml(); !hasNvml {
		return false
	}
	if ret := b.lib.Init(); ret != nvml.SUCCESS {
		return false
	}
	b.available = true
	return true
}

// Query reads index, name, temperature, fan duty, and power draw for every
// NVML-visible GPU. A per-device field that fails to read leaves its
// sample field zero rather than dropping the device.
func (b *nvmlBinding) Query(ctx context.Context) ([]NvidiaSample, error) {
	count, ret := b.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, model.TransientIO("gpu.nvml", errors.New(nvml.ErrorString(ret)))
	}
	samples := make([]NvidiaSample, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := b.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		s := NvidiaSample{Index: i}
		if name, ret := dev.GetName(); ret == nvml.SUCCESS {
			s.Name = name
		}
		if temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			s.TempC = float64(temp)
		}
		if fan, ret := dev.GetFanSpeed(); ret == nvml.SUCCESS {
			s.FanPct = float64(fan)
		}
		if mw, ret := dev.GetPowerUsage(); ret == nvml.SUCCESS {
			s.PowerW = float64(mw) / 1000.0
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Shutdown releases the NVML library if Available ever initialized it.
func (b *nvmlBinding) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available {
		_ = b.lib.Shutdown()
		b.available = false
		b.checked = false
	}
}
