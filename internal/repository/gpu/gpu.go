// Package gpu adapts discrete GPU fan/temperature reporting to the
// repository.Repository contract: AMD via sysfs, NVIDIA via an NVML
// binding falling back to a timeout-bounded nvidia-smi invocation.
package gpu

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// Timeouts for the NVIDIA SMI fallback path.
const (
	nvidiaSMIFirstTryTimeout      = 5 * time.Second
	nvidiaSMISubsequentTryTimeout = 800 * time.Millisecond
)

// NVMLBinding abstracts the in-process NVML calls so tests can substitute
// a fake without loading the real NVML shared library. The production
// implementation is NewNVMLBinding (nvml.go, on NVIDIA/go-nvml); when the
// binding is nil or its library is unavailable, the adapter falls back to
// nvidia-smi.
type NVMLBinding interface {
	Available() bool
	Query(ctx context.Context) ([]NvidiaSample, error)
}

// NvidiaSample is one NVIDIA GPU's reading, regardless of source (NVML or
// nvidia-smi).
type NvidiaSample struct {
	Index  int
	Name   string
	TempC  float64
	FanPct float64
	PowerW float64
}

type amdCard struct {
	hwmonPath string
	uid       string
	name      string
}

// Repository implements repository.Repository for AMD (sysfs) and NVIDIA
// (NVML/nvidia-smi) discrete GPUs.
type Repository struct {
	sysRoot string
	nvml    NVMLBinding
	runCmd  func(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)

	mu        sync.Mutex
	amdCards  []amdCard
	nvidiaIdx []int // 1-based type-index per discovered NVIDIA GPU index
	devices   map[string]*model.Device

	amdScratch    map[string]model.Status
	nvidiaScratch map[string]model.Status
	nvidiaCallN   int
}

func New(sysRoot string, nvml NVMLBinding) *Repository {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return &Repository{
		sysRoot: sysRoot,
		nvml:    nvml,
		runCmd:  runCommandWithTimeout,
		devices: make(map[string]*model.Device),
	}
}

func (r *Repository) Name() string { return "gpu" }

func (r *Repository) InitializeDevices(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.amdCards = discoverAMDCards(r.sysRoot)
	for i, c := range r.amdCards {
		typeIdx := i + 1
		uid := model.NewDeviceUID(model.FamilyGPU, c.hwmonPath, typeIdx)
		r.amdCards[i].uid = uid
		info := model.DeviceInfo{
			Channels: map[string]model.ChannelInfo{
				"GPU Fan": {Speed: model.SpeedOptions{MinDuty: 0, MaxDuty: 100, FixedEnabled: true}},
			},
			Temps: []string{"GPU Temp"},
		}
		d := model.NewDevice(uid, c.name, model.FamilyGPU, typeIdx, info)
		d.InitializeHistory(model.Status{}, 16)
		r.devices[uid] = d
	}

	if nv, err := r.discoverNvidia(ctx); err == nil {
		for i, s := range nv {
			typeIdx := len(r.amdCards) + i + 1
			uid := model.NewDeviceUID(model.FamilyGPU, "nvidia:"+strconv.Itoa(s.Index), typeIdx)
			r.nvidiaIdx = append(r.nvidiaIdx, s.Index)
			info := model.DeviceInfo{
				Channels: map[string]model.ChannelInfo{
					"GPU Fan": {}, // read-only: NVIDIA GPUs do not expose fan-duty actuation here
				},
				Temps: []string{"GPU Temp"},
			}
			d := model.NewDevice(uid, s.Name, model.FamilyGPU, typeIdx, info)
			d.InitializeHistory(model.Status{}, 16)
			r.devices[uid] = d
		}
	}

	if len(r.devices) == 0 {
		return model.InitError("gpu.initialize_devices", "no AMD or NVIDIA GPU found", nil)
	}
	return nil
}

func discoverAMDCards(sysRoot string) []amdCard {
	base := filepath.Join(sysRoot, "class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}
	var out []amdCard
	for _, e := range entries {
		p := filepath.Join(base, e.Name())
		name := readTrimmed(filepath.Join(p, "name"))
		if name != "amdgpu" {
			continue
		}
		out = append(out, amdCard{hwmonPath: p, name: "AMD GPU"})
	}
	return out
}

// discoverNvidia prefers the NVML binding; on its absence or failure,
// falls back to invoking nvidia-smi with the generous first-try timeout,
// since discovery happens once at startup.
func (r *Repository) discoverNvidia(ctx context.Context) ([]NvidiaSample, error) {
	if r.nvml != nil && r.nvml.Available() {
		return r.nvml.Query(ctx)
	}
	return r.queryNvidiaSMI(ctx, nvidiaSMIFirstTryTimeout)
}

func (r *Repository) queryNvidiaSMI(ctx context.Context, timeout time.Duration) ([]NvidiaSample, error) {
	out, err := r.runCmd(ctx, timeout, "nvidia-smi",
		"--query-gpu=index,name,temperature.gpu,fan.speed,power.draw",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, model.TransientIO("gpu.nvidia_smi", err)
	}
	return parseNvidiaSMICSV(out), nil
}

func parseNvidiaSMICSV(out []byte) []NvidiaSample {
	var samples []NvidiaSample
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		idx, _ := strconv.Atoi(strings.TrimSpace(fields[0]))
		name := strings.TrimSpace(fields[1])
		temp, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		fan, _ := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		power, _ := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		samples = append(samples, NvidiaSample{Index: idx, Name: name, TempC: temp, FanPct: fan, PowerW: power})
	}
	return samples
}

func runCommandWithTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var buf bytes.Buffer
	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Stdout = &buf
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Repository) Devices() []*model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// PreloadStatuses reads AMD sysfs channels directly and re-queries NVIDIA
// (NVML or nvidia-smi, with the shorter subsequent-call timeout) into a
// per-repository scratch map. A failure on one GPU family does not affect
// the other.
func (r *Repository) PreloadStatuses(ctx context.Context) error {
	r.mu.Lock()
	cards := append([]amdCard(nil), r.amdCards...)
	nvIdx := append([]int(nil), r.nvidiaIdx...)
	nvml := r.nvml
	callN := r.nvidiaCallN
	r.mu.Unlock()

	amdScratch := make(map[string]model.Status, len(cards))
	for _, c := range cards {
		amdScratch[c.uid] = readAMDStatus(c.hwmonPath)
	}

	nvidiaScratch := make(map[string]model.Status)
	if len(nvIdx) > 0 {
		var samples []NvidiaSample
		var err error
		if nvml != nil && nvml.Available() {
			samples, err = nvml.Query(ctx)
		} else {
			timeout := nvidiaSMISubsequentTryTimeout
			if callN == 0 {
				timeout = nvidiaSMIFirstTryTimeout
			}
			samples, err = r.queryNvidiaSMI(ctx, timeout)
		}
		if err == nil {
			for _, s := range samples {
				for i, idx := range nvIdx {
					if idx != s.Index {
						continue
					}
					typeIdx := len(cards) + i + 1
					uid := model.NewDeviceUID(model.FamilyGPU, "nvidia:"+strconv.Itoa(s.Index), typeIdx)
					temp, fan := s.TempC, s.FanPct
					watts := s.PowerW
					nvidiaScratch[uid] = model.Status{
						Timestamp: time.Now(),
						Temps:    []model.TempStatus{{Name: "GPU Temp", Temp: temp}},
						Channels: []model.ChannelStatus{{Name: "GPU Fan", Duty: &fan, Watts: &watts}},
					}
				}
			}
		}
	}

	r.mu.Lock()
	r.amdScratch = amdScratch
	r.nvidiaScratch = nvidiaScratch
	r.nvidiaCallN = callN + 1
	r.mu.Unlock()
	return nil
}

func readAMDStatus(hwmonPath string) model.Status {
	st := model.Status{Timestamp: time.Now()}
	if raw := readTrimmed(filepath.Join(hwmonPath, "temp1_input")); raw != "" {
		if milli, err := strconv.Atoi(raw); err == nil {
			st.Temps = append(st.Temps, model.TempStatus{Name: "GPU Temp", Temp: float64(milli) / 1000.0})
		}
	}
	if raw := readTrimmed(filepath.Join(hwmonPath, "pwm1")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			duty := float64(v) / 255.0 * 100.0
			st.Channels = append(st.Channels, model.ChannelStatus{Name: "GPU Fan", Duty: &duty})
		}
	}
	return st
}

func (r *Repository) UpdateStatuses(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, d := range r.devices {
		if st, ok := r.amdScratch[uid]; ok {
			d.PushStatus(st)
			continue
		}
		if st, ok := r.nvidiaScratch[uid]; ok {
			d.PushStatus(st)
		}
	}
}

// ApplySettingSpeedFixed supports AMD sysfs fixed-duty writes only; NVIDIA
// GPUs in this adapter are read-only (no standard userspace fan-duty write
// path).
func (r *Repository) ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error {
	if duty < 0 || duty > 100 {
		return model.UserError("gpu.apply_setting_speed_fixed", "duty out of range")
	}
	r.mu.Lock()
	var path string
	for _, c := range r.amdCards {
		if c.uid == deviceUID {
			path = c.hwmonPath
			break
		}
	}
	r.mu.Unlock()
	if path == "" {
		return model.Unsupported("gpu.apply_setting_speed_fixed")
	}
	_ = os.WriteFile(filepath.Join(path, "pwm1_enable"), []byte("1"), 0o644)
	pwmVal := int(float64(duty) / 100.0 * 255.0)
	return os.WriteFile(filepath.Join(path, "pwm1"), []byte(strconv.Itoa(pwmVal)), 0o644)
}

// Reset writes the automatic PWM mode code on AMD cards; NVIDIA GPUs have
// nothing to reset here.
func (r *Repository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.amdCards {
		_ = os.WriteFile(filepath.Join(c.hwmonPath, "pwm1_enable"), []byte("2"), 0o644)
	}
	return nil
}

func (r *Repository) Reinitialize(ctx context.Context) error {
	r.mu.Lock()
	r.devices = make(map[string]*model.Device)
	r.amdCards = nil
	r.nvidiaIdx = nil
	r.mu.Unlock()
	return r.InitializeDevices(ctx)
}

// Shutdown releases the NVML library when the binding holds one; the
// sysfs and nvidia-smi paths hold no resources across calls.
func (r *Repository) Shutdown(ctx context.Context) error {
	if s, ok := r.nvml.(interface{ Shutdown() }); ok {
		s.Shutdown()
	}
	return nil
}

// PreloadDeadlineDefault allows the generous nvidia-smi timeout on the very
// first sweep (driver warm-up), then the tight per-tick bound afterwards.
func (r *Repository) PreloadDeadlineDefault() (first, subsequent int64) {
	return nvidiaSMIFirstTryTimeout.Milliseconds(), nvidiaSMISubsequentTryTimeout.Milliseconds()
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
