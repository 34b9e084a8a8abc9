package gpu

import (
	"context"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/NVIDIA/go-nvml/pkg/nvml/mock"
)

func TestNVMLBindingQueryConvertsSamples(t *testing.T) {
	dev := &mock.Device{
		GetNameFunc:        func() (string, nvml.Return) { return "RTX 4090", nvml.SUCCESS },
		GetTemperatureFunc: func(nvml.TemperatureSensors) (uint32, nvml.Return) { return 55, nvml.SUCCESS },
		GetFanSpeedFunc:    func() (uint32, nvml.Return) { return 40, nvml.SUCCESS },
		GetPowerUsageFunc:  func() (uint32, nvml.Return) { return 250_000, nvml.SUCCESS },
	}
	lib := &mock.Interface{
		DeviceGetCountFunc: func() (int, nvml.Return) { return 1, nvml.SUCCESS },
		DeviceGetHandleByIndexFunc: func(index int) (nvml.Device, nvml.Return) {
			return dev, nvml.SUCCESS
		},
	}

	b := &nvmlBinding{lib: lib}
	samples, err := b.Query(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	s := samples[0]
	if s.Name != "RTX 4090" || s.TempC != 55 || s.FanPct != 40 {
		t.Fatalf("unexpected sample: %+v", s)
	}
	if s.PowerW != 250.0 {
		t.Fatalf("expected milliwatts converted to 250.0 W, got %v", s.PowerW)
	}
}

func TestNVMLBindingQueryPropagatesCountError(t *testing.T) {
	lib := &mock.Interface{
		DeviceGetCountFunc: func() (int, nvml.Return) { return 0, nvml.ERROR_UNINITIALIZED },
	}
	b := &nvmlBinding{lib: lib}
	if _, err := b.Query(context.Background()); err == nil {
		t.Fatal("expected an error when the device count read fails")
	}
}

func TestNVMLBindingQuerySkipsUnreachableDevice(t *testing.T) {
	lib := &mock.Interface{
		DeviceGetCountFunc: func() (int, nvml.Return) { return 1, nvml.SUCCESS },
		DeviceGetHandleByIndexFunc: func(index int) (nvml.Device, nvml.Return) {
			return nil, nvml.ERROR_GPU_IS_LOST
		},
	}
	b := &nvmlBinding{lib: lib}
	samples, err := b.Query(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected the lost device to be skipped, got %+v", samples)
	}
}
