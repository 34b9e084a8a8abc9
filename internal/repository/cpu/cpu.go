// Package cpu adapts /proc/cpuinfo and the CPU's hwmon thermal/RAPL
// reporting to the repository.Repository contract. Load and power are both
// derived from two-point deltas of cumulative kernel counters.
package cpu

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// hwmonPriority is the priority-ordered list of driver names searched for a
// CPU thermal hwmon node. The first match wins.
var hwmonPriority = []string{"k10temp", "coretemp", "zenpower", "cpu_thermal"}

type physicalCPU struct {
	physicalID int // -1 means synthetic (no `physical id` key present)
	modelName  string
	logicalIDs []int
}

// cpuTempSource is the resolved hwmon tempN_input file backing one physical
// CPU's package temperature.
type cpuTempSource struct {
	path string
}

type powerState struct {
	lastJoules float64
	lastTime   time.Time
	lastWatts  float64
	haveSample bool
}

type scratch struct {
	cpuMHz    map[int][]float64 // physicalID -> observed cpu MHz values
	tempC     map[int]float64   // physicalID -> package temperature, °C
	jiffies   cpuJiffies
	jiffiesOK bool
	powerJ    float64
	sampled   time.Time
}

// Repository implements repository.Repository for CPU package sensors.
type Repository struct {
	procRoot string
	sysRoot  string

	mu          sync.Mutex
	cpus        []physicalCPU
	hwmonDir    string                // resolved CPU hwmon node, or "" if none found
	tempSrc     map[int]cpuTempSource // physicalID -> temp source
	devices     map[string]*model.Device
	power       map[int]*powerState
	prevJiffies cpuJiffies
	haveJiffies bool
	sc          scratch
}

func New(procRoot, sysRoot string) *Repository {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return &Repository{
		procRoot: procRoot,
		sysRoot:  sysRoot,
		devices:  make(map[string]*model.Device),
		power:    make(map[int]*powerState),
	}
}

func (r *Repository) Name() string { return "cpu" }

// InitializeDevices parses /proc/cpuinfo, groups logical processors by
// physical id (synthesizing a single CPU 0 when that key is absent, e.g.
// on Raspberry Pi), then resolves the CPU hwmon node and one Device per
// physical CPU.
func (r *Repository) InitializeDevices(ctx context.Context) error {
	f, err := os.Open(filepath.Join(r.procRoot, "cpuinfo"))
	if err != nil {
		return model.InitError("cpu.initialize_devices", "cpuinfo missing", err)
	}
	defer f.Close()

	cpus, err := parseCPUInfo(f)
	if err != nil {
		return model.InitError("cpu.initialize_devices", "cpuinfo unparsable", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cpus = cpus
	r.hwmonDir = findCPUHwmonNode(r.sysRoot)
	r.tempSrc = resolveCPUTempSources(r.sysRoot, cpus)

	for idx, c := range cpus {
		typeIndex := idx + 1
		stableKey := c.modelName
		uid := model.NewDeviceUID(model.FamilyCPU, stableKey, typeIndex)
		info := model.DeviceInfo{
			Channels: map[string]model.ChannelInfo{},
			Temps:    []string{"CPU Temp"},
		}
		info.Channels["CPU Load"] = model.ChannelInfo{}
		info.Channels["CPU Freq"] = model.ChannelInfo{}
		info.Channels["CPU Power"] = model.ChannelInfo{}
		d := model.NewDevice(uid, c.modelName, model.FamilyCPU, typeIndex, info)
		d.InitializeHistory(model.Status{}, 16)
		r.devices[uid] = d
		r.power[c.physicalID] = &powerState{}
	}
	return nil
}

func parseCPUInfo(f *os.File) ([]physicalCPU, error) {
	scanner := bufio.NewScanner(f)
	byPhysical := map[int]*physicalCPU{}
	var order []int
	havePhysicalID := false

	var curLogical int
	var curPhysical = -1
	var curModel string

	flush := func() {
		phys := curPhysical
		if !havePhysicalID {
			phys = 0
		}
		pc, ok := byPhysical[phys]
		if !ok {
			pc = &physicalCPU{physicalID: phys, modelName: curModel}
			byPhysical[phys] = pc
			order = append(order, phys)
		}
		if pc.modelName == "" {
			pc.modelName = curModel
		}
		pc.logicalIDs = append(pc.logicalIDs, curLogical)
	}

	seenAnyField := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if seenAnyField {
				flush()
				seenAnyField = false
				curPhysical = -1
				curModel = ""
			}
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "processor":
			if n, err := strconv.Atoi(val); err == nil {
				curLogical = n
			}
			seenAnyField = true
		case "physical id":
			if n, err := strconv.Atoi(val); err == nil {
				curPhysical = n
				havePhysicalID = true
			}
		case "model name", "Model":
			curModel = val
		}
	}
	if seenAnyField {
		flush()
	}

	out := make([]physicalCPU, 0, len(order))
	sort.Ints(order)
	for _, id := range order {
		out = append(out, *byPhysical[id])
	}
	if len(out) == 0 {
		return nil, os.ErrInvalid
	}
	return out, nil
}

// findCPUHwmonNode walks hwmonPriority and returns the first matching
// /sys/class/hwmon/hwmonN path, or "" if none of the priority drivers are
// present.
func findCPUHwmonNode(sysRoot string) string {
	base := filepath.Join(sysRoot, "class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return ""
	}
	byName := map[string]string{}
	for _, e := range entries {
		p := filepath.Join(base, e.Name())
		name := readTrimmed(filepath.Join(p, "name"))
		if name != "" {
			byName[name] = p
		}
	}
	for _, driver := range hwmonPriority {
		if p, ok := byName[driver]; ok {
			return p
		}
	}
	return ""
}

// resolveCPUTempSources matches each discovered hwmon node to a physical
// CPU: for Intel coretemp, each physical id is pinned by the "Package id N"
// temp label; for AMD (k10temp/zenpower) and the generic cpu_thermal
// fallback, a lone physical CPU takes the sole node, and otherwise the
// hwmon enumeration index is assumed to equal the physical id. This is
// the best
// available heuristic, since the kernel driver itself doesn't expose a
// reliable node-to-socket mapping on multi-CPU AMD systems.
func resolveCPUTempSources(sysRoot string, cpus []physicalCPU) map[int]cpuTempSource {
	out := make(map[int]cpuTempSource)
	base := filepath.Join(sysRoot, "class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return out
	}

	var nodesByDriver = map[string][]string{}
	for _, e := range entries {
		p := filepath.Join(base, e.Name())
		name := readTrimmed(filepath.Join(p, "name"))
		if name != "" {
			nodesByDriver[name] = append(nodesByDriver[name], p)
		}
	}

	var chosenDriver string
	var nodes []string
	for _, driver := range hwmonPriority {
		if ns, ok := nodesByDriver[driver]; ok && len(ns) > 0 {
			chosenDriver = driver
			nodes = append([]string(nil), ns...)
			break
		}
	}
	if chosenDriver == "" {
		return out
	}
	sort.Strings(nodes)

	if chosenDriver == "coretemp" {
		for _, p := range nodes {
			tempFiles := listTempInputs(p)
			for _, tf := range tempFiles {
				label := readTrimmed(labelPathFor(tf))
				if !strings.HasPrefix(strings.ToLower(label), "package id") {
					continue
				}
				fields := strings.Fields(label)
				n, err := strconv.Atoi(fields[len(fields)-1])
				if err != nil {
					continue
				}
				out[n] = cpuTempSource{path: tf}
			}
		}
		return out
	}

	// AMD (k10temp/zenpower) and cpu_thermal: one CPU present takes the sole
	// node's primary temp input; otherwise node enumeration index stands in
	// for physical id.
	if len(cpus) == 1 && len(nodes) >= 1 {
		if tf := primaryTempInput(nodes[0]); tf != "" {
			out[cpus[0].physicalID] = cpuTempSource{path: tf}
		}
		return out
	}
	for i, p := range nodes {
		if tf := primaryTempInput(p); tf != "" {
			out[i] = cpuTempSource{path: tf}
		}
	}
	return out
}

// listTempInputs returns every tempN_input path under a hwmon node.
func listTempInputs(nodePath string) []string {
	entries, err := os.ReadDir(nodePath)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, "temp") && strings.HasSuffix(n, "_input") {
			out = append(out, filepath.Join(nodePath, n))
		}
	}
	sort.Strings(out)
	return out
}

// primaryTempInput picks the "Tctl"/"Tdie"-labeled sensor if present
// (k10temp's package-level reading), else the lowest-numbered temp input.
func primaryTempInput(nodePath string) string {
	inputs := listTempInputs(nodePath)
	for _, tf := range inputs {
		label := strings.ToLower(readTrimmed(labelPathFor(tf)))
		if label == "tctl" || label == "tdie" {
			return tf
		}
	}
	if len(inputs) > 0 {
		return inputs[0]
	}
	return ""
}

func labelPathFor(tempInputPath string) string {
	return strings.TrimSuffix(tempInputPath, "_input") + "_label"
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

type cpuJiffies struct {
	user, nice, system, idle, iowait, irq, softirq, steal int64
}

func (j cpuJiffies) total() int64 {
	return j.user + j.nice + j.system + j.idle + j.iowait + j.irq + j.softirq + j.steal
}

func readAggregateJiffies(procRoot string) (cpuJiffies, bool) {
	b, err := os.ReadFile(filepath.Join(procRoot, "stat"))
	if err != nil {
		return cpuJiffies{}, false
	}
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		var j cpuJiffies
		vals := make([]int64, 0, 8)
		for _, f := range fields[1:] {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		if len(vals) < 7 {
			return cpuJiffies{}, false
		}
		j.user, j.nice, j.system, j.idle, j.iowait, j.irq, j.softirq = vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]
		if len(vals) >= 8 {
			j.steal = vals[7]
		}
		return j, true
	}
	return cpuJiffies{}, false
}

// PreloadStatuses reads the instantaneous cpu MHz (per-physical-id
// average), the aggregate jiffy counters for load, and the RAPL energy
// counter if present. Must not mutate Device records.
func (r *Repository) PreloadStatuses(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mhz := readCPUMHz(r.procRoot, r.cpus)
	jiffies, ok := readAggregateJiffies(r.procRoot)
	energy, _ := readRAPLEnergyJoules(r.sysRoot)
	tempC := readCPUTemps(r.tempSrc)

	r.sc = scratch{cpuMHz: mhz, tempC: tempC, jiffies: jiffies, jiffiesOK: ok, powerJ: energy, sampled: time.Now()}
	return nil
}

// readCPUTemps reads every physical CPU's resolved tempN_input file,
// converting millidegrees to °C. A missing or unreadable file simply omits
// that physical id from the result.
func readCPUTemps(src map[int]cpuTempSource) map[int]float64 {
	out := make(map[int]float64, len(src))
	for physID, ts := range src {
		raw := readTrimmed(ts.path)
		if raw == "" {
			continue
		}
		milli, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out[physID] = float64(milli) / 1000.0
	}
	return out
}

func readCPUMHz(procRoot string, cpus []physicalCPU) map[int][]float64 {
	f, err := os.Open(filepath.Join(procRoot, "cpuinfo"))
	if err != nil {
		return nil
	}
	defer f.Close()

	out := map[int][]float64{}
	havePhysicalID := false
	curPhysical := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			if strings.TrimSpace(line) == "" {
				curPhysical = -1
			}
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "physical id":
			if n, err := strconv.Atoi(val); err == nil {
				curPhysical = n
				havePhysicalID = true
			}
		case "cpu MHz":
			phys := curPhysical
			if !havePhysicalID {
				phys = 0
			}
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				out[phys] = append(out[phys], v)
			}
		}
	}
	return out
}

// readRAPLEnergyJoules sums the energy_uj counters under the powercap
// hierarchy for package-level domains.
func readRAPLEnergyJoules(sysRoot string) (float64, bool) {
	base := filepath.Join(sysRoot, "class", "powercap")
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, false
	}
	var totalUJ float64
	found := false
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "intel-rapl:") {
			continue
		}
		raw := readTrimmed(filepath.Join(base, e.Name(), "energy_uj"))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		totalUJ += v
		found = true
	}
	if !found {
		return 0, false
	}
	return totalUJ / 1_000_000.0, true
}

// UpdateStatuses is the only write to Device records allowed during a tick.
func (r *Repository) UpdateStatuses(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var loadPct float64
	haveLoad := r.haveJiffies && r.sc.jiffiesOK
	if haveLoad {
		dTotal := float64(r.sc.jiffies.total() - r.prevJiffies.total())
		dIdle := float64((r.sc.jiffies.idle + r.sc.jiffies.iowait) - (r.prevJiffies.idle + r.prevJiffies.iowait))
		if dTotal > 0 {
			loadPct = (1.0 - dIdle/dTotal) * 100.0
		}
	}
	if r.sc.jiffiesOK {
		r.prevJiffies = r.sc.jiffies
		r.haveJiffies = true
	}

	for _, c := range r.cpus {
		uid := model.NewDeviceUID(model.FamilyCPU, c.modelName, indexOf(r.cpus, c)+1)
		d := r.devices[uid]
		if d == nil {
			continue
		}

		var freq float64
		if vals := r.sc.cpuMHz[c.physicalID]; len(vals) > 0 {
			sum := 0.0
			for _, v := range vals {
				sum += v
			}
			freq = sum / float64(len(vals))
		}

		channels := []model.ChannelStatus{}
		if haveLoad {
			l := loadPct
			channels = append(channels, model.ChannelStatus{Name: "CPU Load", Duty: &l})
		}
		if freq > 0 {
			fq := freq
			channels = append(channels, model.ChannelStatus{Name: "CPU Freq", Frequency: &fq})
		}

		ps := r.power[c.physicalID]
		if ps != nil && r.sc.powerJ > 0 {
			watts := ps.lastWatts
			if ps.haveSample {
				dt := r.sc.sampled.Sub(ps.lastTime).Seconds()
				if dt > 0 {
					dj := r.sc.powerJ - ps.lastJoules
					w := dj / dt
					// Counter-quantization workaround: a sub-0.01W
					// delta on a non-initial sample is noise; keep the
					// previous cached value.
					if w >= 0.01 {
						watts = w
					}
				}
			} else {
				watts = 0
			}
			ps.lastJoules = r.sc.powerJ
			ps.lastTime = r.sc.sampled
			ps.lastWatts = watts
			ps.haveSample = true
			wv := watts
			channels = append(channels, model.ChannelStatus{Name: "CPU Power", Watts: &wv})
		}

		var temps []model.TempStatus
		if t, ok := r.sc.tempC[c.physicalID]; ok {
			temps = append(temps, model.TempStatus{Name: "CPU Temp", Temp: t})
		}

		d.PushStatus(model.Status{Timestamp: r.sc.sampled, Temps: temps, Channels: channels})
	}
}

func indexOf(cpus []physicalCPU, target physicalCPU) int {
	for i, c := range cpus {
		if c.physicalID == target.physicalID {
			return i
		}
	}
	return 0
}

func (r *Repository) ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error {
	return model.Unsupported("cpu.apply_setting_speed_fixed")
}

func (r *Repository) Reset(ctx context.Context) error    { return nil }
func (r *Repository) Reinitialize(ctx context.Context) error {
	r.mu.Lock()
	r.devices = make(map[string]*model.Device)
	r.power = make(map[int]*powerState)
	r.haveJiffies = false
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
