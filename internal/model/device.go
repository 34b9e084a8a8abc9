package model

import (
	"strconv"

	"github.com/google/uuid"
)

// Family tags which repository owns a device.
type Family string

const (
	FamilyLiquidctl     Family = "Liquidctl"
	FamilyHwmon         Family = "Hwmon"
	FamilyCPU           Family = "CPU"
	FamilyGPU           Family = "GPU"
	FamilyCustomSensors Family = "CustomSensors"
)

// deviceNamespace roots the deterministic UID hash so that coolerd's UIDs
// never collide with UUIDs minted by unrelated tools reusing the same
// serial/path strings.
var deviceNamespace = uuid.MustParse("d9a1f5b0-6c2e-4d9f-9a0a-3b6f2f1f9c11")

// NewDeviceUID derives a stable identifier for a device from attributes that
// persist across restarts: family, a family-specific stable key (serial
// number, resolved sysfs path, or HID physical path, whichever the adapter
// found first), and the 1-based type-index used to disambiguate multiple
// devices of the same family that share no other stable attribute.
//
// Hashing (rather than persisting an allocated table) means the same
// physical device gets the same UID across restarts without the core
// depending on the out-of-scope persisted-config collaborator for identity.
func NewDeviceUID(family Family, stableKey string, typeIndex int) string {
	name := string(family) + ":" + stableKey + ":" + strconv.Itoa(typeIndex)
	return uuid.NewSHA1(deviceNamespace, []byte(name)).String()
}

// LcInfo carries liquidctl-specific metadata: the underlying driver family
// subtag (e.g. "Kraken X3", "HydroPlatinum"), firmware version if reported,
// and whether the device was matched by the legacy (pre-HID) driver path.
type LcInfo struct {
	DriverFamily string
	Firmware     string
	Legacy       bool
}

// DriverInfoLocations records where static per-device configuration came
// from, for diagnostics: sysfs base path, the hwmon index, or the liquidctl
// bus address.
type DriverInfoLocations struct {
	SysfsPath    string
	HwmonIndex   int
	BusAddress   string
	HelperDevIdx int
}

// DeviceInfo is the static catalog describing what a device can do. It does
// not change across ticks; only Status (the dynamic reading) does.
type DeviceInfo struct {
	Channels  map[string]ChannelInfo
	Temps     []string // catalog of temp names this device can report
	DriverInfoLocations
}

// Device is the in-memory record of one discovered physical or synthetic
// device. It is a passive value container: it performs no I/O itself. Its
// history ring changes only through InitializeHistory, PushStatus (the
// Scheduler's Snapshot phase), GrowHistoryCapacity (profile binding) and
// ReplaceHistory (custom-sensor retrofill).
type Device struct {
	UID        string
	Name       string
	DeviceFam  Family
	TypeIndex  int // 1-based, per-family ordinal
	LcInfo     *LcInfo
	Info       DeviceInfo
	history    []Status
	historyCap int
}

// NewDevice constructs a Device with no history. InitializeHistory must be
// called once the first Status is available.
func NewDevice(uid, name string, family Family, typeIndex int, info DeviceInfo) *Device {
	return &Device{
		UID:       uid,
		Name:      name,
		DeviceFam: family,
		TypeIndex: typeIndex,
		Info:      info,
	}
}

func (d *Device) UIDString() string { return d.UID }
func (d *Device) Kind() Family      { return d.DeviceFam }
func (d *Device) HistoryLen() int   { return len(d.history) }
func (d *Device) HistoryCap() int   { return d.historyCap }

// CurrentStatus returns the most recent snapshot, or false if none exists
// yet (device discovered but not yet sampled).
func (d *Device) CurrentStatus() (Status, bool) {
	if len(d.history) == 0 {
		return Status{}, false
	}
	return d.history[len(d.history)-1], true
}

// InitializeHistory sizes the status-history ring. The ring must hold enough
// samples to satisfy the largest shaping window: at least 16 samples plus the
// largest configured response delay divided by the poll rate. Callers pass
// the already-computed capacity.
func (d *Device) InitializeHistory(first Status, capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	d.historyCap = capacity
	d.history = make([]Status, 0, capacity)
	d.history = append(d.history, first)
}

// PushStatus advances the ring, dropping the oldest sample once capacity is
// reached. This is the only mutation permitted during a tick, and only from
// the Scheduler's Snapshot phase.
func (d *Device) PushStatus(s Status) {
	if d.historyCap <= 0 {
		d.InitializeHistory(s, 16)
		return
	}
	if len(d.history) >= d.historyCap {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, s)
}

// History returns the ring contents, newest-last.
func (d *Device) History() []Status { return d.history }

// GrowHistoryCapacity raises the ring's capacity if needed, preserving all
// existing entries. It never shrinks the ring: multiple profiles reading
// the same temp source each request the capacity their own shaping window
// needs, and the ring must satisfy the largest of them.
func (d *Device) GrowHistoryCapacity(capacity int) {
	if capacity <= d.historyCap {
		return
	}
	grown := make([]Status, len(d.history), capacity)
	copy(grown, d.history)
	d.history = grown
	d.historyCap = capacity
}

// ReplaceHistory overwrites the ring contents in place, keeping the
// existing capacity. Used by the Custom Sensors adapter to retroactively
// fill or purge a single sensor's contribution across the whole ring
// without disturbing any other sensor's history.
func (d *Device) ReplaceHistory(entries []Status) {
	if d.historyCap <= 0 {
		d.historyCap = len(entries)
	}
	if len(entries) > d.historyCap {
		entries = entries[len(entries)-d.historyCap:]
	}
	d.history = append([]Status(nil), entries...)
}

// HistoryNewestFirst returns a copy of the ring in newest-first order, for
// callers (Standard/EMA pre-processors) that want to walk recent-to-old.
func (d *Device) HistoryNewestFirst() []Status {
	out := make([]Status, len(d.history))
	for i, s := range d.history {
		out[len(d.history)-1-i] = s
	}
	return out
}
