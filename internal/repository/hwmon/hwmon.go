// Package hwmon adapts Linux's /sys/class/hwmon sysfs tree to the
// repository.Repository contract.
package hwmon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// laptopFallbackDrivers require writing the automatic-mode pwmN_enable code
// on reset rather than leaving the prior mode.
var laptopFallbackDrivers = map[string]bool{
	"thinkpad":    true,
	"asus-nb-wmi": true,
	"asus_fan":    true,
}

const (
	pwmModeFull   = 0
	pwmModeManual = 1
	pwmModeAuto   = 2
)

// node is one /sys/class/hwmon/hwmonN entry discovered at startup.
type node struct {
	path       string // e.g. /sys/class/hwmon/hwmon3
	devicePath string // path/device if the CentOS intermediate layout is present, else path
	chanRoot   string // directory holding tempN_input/pwmN files for this node
	driver     string
	uid        string
	typeIndex  int
}

type scratch struct {
	temps []model.TempStatus
	chans []model.ChannelStatus
}

// Repository implements repository.Repository for motherboard/chipset
// sensors exposed via hwmon.
type Repository struct {
	sysRoot string

	mu      sync.Mutex
	nodes   []node
	devices map[string]*model.Device // uid -> device
	scratch map[string]scratch       // uid -> scratch, filled by PreloadStatuses
}

func New(sysRoot string) *Repository {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return &Repository{
		sysRoot: sysRoot,
		devices: make(map[string]*model.Device),
		scratch: make(map[string]scratch),
	}
}

func (r *Repository) Name() string { return "hwmon" }

// InitializeDevices discovers every hwmonN node matching the direct
// (hwmonN/tempN_input) or CentOS intermediate (hwmonN/device/tempN_input)
// layout, classifies its channels, and computes a persistent UID.
func (r *Repository) InitializeDevices(ctx context.Context) error {
	base := filepath.Join(r.sysRoot, "class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return model.InitError("hwmon.initialize_devices", "cannot read hwmon class dir", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nameCounts := map[string]int{}
	var nodes []node

	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "hwmon") {
			continue
		}
		p := filepath.Join(base, e.Name())
		devPath := p
		if _, err := os.Stat(filepath.Join(p, "device")); err == nil {
			devPath = filepath.Join(p, "device")
		}

		name := readTrimmed(filepath.Join(p, "name"))
		if name == "" {
			continue
		}

		uevent := parseUevent(filepath.Join(devPath, "uevent"))
		serial := readTrimmed(filepath.Join(devPath, "serial"))

		stableKey := serial
		if stableKey == "" {
			stableKey = devPath
		}
		if stableKey == "" {
			stableKey = uevent["HID_PHYS"]
		}

		nameCounts[name]++
		idx := nameCounts[name]

		// Collision break: when two nodes share `name`, disambiguate by
		// DEVNAME, MINOR, or model from uevent.
		if idx > 1 {
			if dn := uevent["DEVNAME"]; dn != "" {
				stableKey += ":" + dn
			} else if mn := uevent["MINOR"]; mn != "" {
				stableKey += ":" + mn
			} else if model := readTrimmed(filepath.Join(devPath, "model")); model != "" {
				stableKey += ":" + model
			}
		}

		// The direct layout keeps sensor files beside `name`; the CentOS
		// intermediate layout keeps them one level down under device/.
		chanRoot := p
		if !hasSensorFiles(p) && hasSensorFiles(devPath) {
			chanRoot = devPath
		}

		uid := model.NewDeviceUID(model.FamilyHwmon, stableKey, idx)
		nodes = append(nodes, node{path: p, devicePath: devPath, chanRoot: chanRoot, driver: uevent["DRIVER"], uid: uid, typeIndex: idx})

		info := r.buildDeviceInfo(chanRoot)
		d := model.NewDevice(uid, name, model.FamilyHwmon, idx, info)
		d.InitializeHistory(model.Status{}, 16)
		r.devices[uid] = d
	}

	r.nodes = nodes
	return nil
}

// buildDeviceInfo walks a hwmon node's channel files and classifies them
// into Temp / Fan-PWM / Load / Freq / PowerCap catalog entries.
func (r *Repository) buildDeviceInfo(path string) model.DeviceInfo {
	info := model.DeviceInfo{
		Channels: make(map[string]model.ChannelInfo),
		DriverInfoLocations: model.DriverInfoLocations{
			SysfsPath: path,
		},
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return info
	}
	for _, e := range entries {
		n := e.Name()
		switch {
		case strings.HasPrefix(n, "temp") && strings.HasSuffix(n, "_input"):
			info.Temps = append(info.Temps, tempChannelName(path, n))
		case strings.HasPrefix(n, "pwm") && !strings.Contains(n, "_"):
			info.Channels[n] = model.ChannelInfo{
				Speed: model.SpeedOptions{MinDuty: 0, MaxDuty: 100, FixedEnabled: true, ManualEnabled: true, ProfileEnabled: true},
			}
		case strings.HasPrefix(n, "power") && strings.HasSuffix(n, "_input"):
			// PowerCap-classified channel; read-only, no speed options.
			info.Channels[n] = model.ChannelInfo{}
		}
	}
	return info
}

func tempChannelName(path, file string) string {
	idx := strings.TrimSuffix(strings.TrimPrefix(file, "temp"), "_input")
	if label := readTrimmed(filepath.Join(path, "temp"+idx+"_label")); label != "" {
		return label
	}
	return "temp" + idx
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

// PreloadStatuses reads every channel file for every node. A single
// failed read does not abort the tick: the affected temp or channel is
// omitted from this tick's scratch, so the Status that UpdateStatuses
// pushes lacks it; its earlier reading is not carried forward.
func (r *Repository) PreloadStatuses(ctx context.Context) error {
	r.mu.Lock()
	nodes := append([]node(nil), r.nodes...)
	r.mu.Unlock()

	results := make(map[string]scratch, len(nodes))
	for _, n := range nodes {
		results[n.uid] = r.readNode(n)
	}

	r.mu.Lock()
	r.scratch = results
	r.mu.Unlock()
	return nil
}

func (r *Repository) readNode(n node) scratch {
	var sc scratch
	entries, err := os.ReadDir(n.chanRoot)
	if err != nil {
		return sc
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "temp") && strings.HasSuffix(name, "_input"):
			raw := readTrimmed(filepath.Join(n.chanRoot, name))
			milli, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			sc.temps = append(sc.temps, model.TempStatus{Name: tempChannelName(n.chanRoot, name), Temp: float64(milli) / 1000.0})
		case strings.HasPrefix(name, "pwm") && !strings.Contains(name, "_"):
			raw := readTrimmed(filepath.Join(n.chanRoot, name))
			val, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			duty := float64(val) / 255.0 * 100.0
			rpmName := "fan" + strings.TrimPrefix(name, "pwm") + "_input"
			var rpmPtr *int
			if rpmRaw := readTrimmed(filepath.Join(n.chanRoot, rpmName)); rpmRaw != "" {
				if rpm, err := strconv.Atoi(rpmRaw); err == nil {
					rpmPtr = &rpm
				}
			}
			sc.chans = append(sc.chans, model.ChannelStatus{Name: name, Duty: &duty, RPM: rpmPtr})
		}
	}
	return sc
}

// hasSensorFiles reports whether dir directly contains at least one
// tempN_input or pwmN file.
func hasSensorFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, "temp") && strings.HasSuffix(n, "_input") {
			return true
		}
		if strings.HasPrefix(n, "pwm") && !strings.Contains(n, "_") {
			return true
		}
	}
	return false
}

// UpdateStatuses consumes the scratch map, performing the only write to
// Device records allowed during a tick.
func (r *Repository) UpdateStatuses(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, d := range r.devices {
		sc, ok := r.scratch[uid]
		if !ok {
			continue // transient failure: retain previous status
		}
		d.PushStatus(model.Status{Timestamp: time.Now(), Temps: sc.temps, Channels: sc.chans})
	}
}

// ApplySettingSpeedFixed writes a duty percentage (0-100) to a pwmN file,
// scaled to hwmon's native 0-255 range, after switching the channel into
// manual mode.
func (r *Repository) ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error {
	r.mu.Lock()
	var path string
	for _, n := range r.nodes {
		if n.uid == deviceUID {
			path = n.chanRoot
			break
		}
	}
	r.mu.Unlock()
	if path == "" {
		return model.Missing("hwmon.apply_setting_speed_fixed", "unknown device uid "+deviceUID)
	}
	if duty < 0 || duty > 100 {
		return model.UserError("hwmon.apply_setting_speed_fixed", "duty out of range")
	}

	enableFile := filepath.Join(path, channel+"_enable")
	_ = os.WriteFile(enableFile, []byte(strconv.Itoa(pwmModeManual)), 0o644)

	pwmVal := int(float64(duty) / 100.0 * 255.0)
	if err := os.WriteFile(filepath.Join(path, channel), []byte(strconv.Itoa(pwmVal)), 0o644); err != nil {
		return model.TransientIO("hwmon.apply_setting_speed_fixed", err)
	}
	return nil
}

// Reset restores the automatic mode code for laptop-class drivers; other
// drivers keep their prior pwmN_enable code untouched.
func (r *Repository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if !laptopFallbackDrivers[n.driver] {
			continue
		}
		entries, err := os.ReadDir(n.chanRoot)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, "pwm") && strings.HasSuffix(name, "_enable") {
				_ = os.WriteFile(filepath.Join(n.chanRoot, name), []byte(strconv.Itoa(pwmModeAuto)), 0o644)
			}
		}
	}
	return nil
}

func (r *Repository) Reinitialize(ctx context.Context) error {
	r.mu.Lock()
	r.devices = make(map[string]*model.Device)
	r.scratch = make(map[string]scratch)
	r.mu.Unlock()
	return r.InitializeDevices(ctx)
}

func (r *Repository) Shutdown(ctx context.Context) error { return nil }

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func parseUevent(path string) map[string]string {
	out := make(map[string]string)
	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
