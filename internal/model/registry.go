package model

import "sync"

// Registry is the flat, all-devices lookup built once at startup. Devices
// stay exclusively owned by their repository; cross-repository references go
// through UID lookups here instead of holding direct cyclic pointers. It is
// populated by each repository after InitializeDevices and consulted
// read-only by everything else (notably the Custom Sensors adapter, which
// references temps living on devices it does not own).
//
// Device records themselves are still mutated only during the Scheduler's
// Snapshot phase; the Registry only ever returns pointers, it never copies
// or caches Status.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register adds a device, owned by some repository, to the flat lookup.
func (r *Registry) Register(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.UID] = d
}

// Unregister removes a device, e.g. after a repository's reinitialize drops
// stale entries.
func (r *Registry) Unregister(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, uid)
}

// Lookup returns the device for uid, if any.
func (r *Registry) Lookup(uid string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[uid]
	return d, ok
}

// Temp resolves a TempSource to its current reading. Returns false if the
// device is missing or the device's current status does not carry that
// temp name; the caller picks the substitute (the Identity pre-processor
// uses EmergencyMissingTemp, the Custom Sensor Composer a 0 °C reading).
func (r *Registry) Temp(ts TempSource) (float64, bool) {
	d, ok := r.Lookup(ts.DeviceUID)
	if !ok {
		return 0, false
	}
	st, ok := d.CurrentStatus()
	if !ok {
		return 0, false
	}
	return st.TempByName(ts.TempName)
}

// All returns every registered device. Order is unspecified; callers that
// need determinism sort by UID or Name themselves.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// TempHistory returns up to the last n readings of ts, oldest-first,
// INCLUDING the current (most recent) sample: the status-history ring
// already carries this tick's snapshot by the time the Processor Chain
// runs (Scheduler's Snapshot phase precedes Evaluate & Apply). Used by the
// Standard and EMA pre-processors to fill their shaping windows from the
// device's status-history ring on cold start. Returns
// fewer than n entries if history is shorter, skipping any snapshot that
// doesn't carry this temp name.
func (r *Registry) TempHistory(ts TempSource, n int) []float64 {
	d, ok := r.Lookup(ts.DeviceUID)
	if !ok || n <= 0 {
		return nil
	}
	hist := d.History()
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	out := make([]float64, 0, len(hist))
	for _, s := range hist {
		if t, ok := s.TempByName(ts.TempName); ok {
			out = append(out, t)
		}
	}
	return out
}
