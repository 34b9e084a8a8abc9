// Package customsensors implements the Custom Sensors adapter: a single
// synthetic device composing temperatures from already-updated readings of
// other devices, plus File-backed external readings.
package customsensors

import (
	"context"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/customsensor"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// Repository owns the single "Custom Sensors" device. It performs no
// preload of its own (PreloadStatuses is a no-op) because it acts on
// already-updated readings of other devices.
type Repository struct {
	registry *model.Registry
	composer *customsensor.Composer
	device   *model.Device

	// sensors preserves insertion/definition order for deterministic
	// iteration (diagnostics, config round-trip) the way the rest of the
	// pack uses an ordered map instead of a plain map + separate sort.
	sensors *orderedmap.OrderedMap[string, model.CustomSensor]
}

func New(registry *model.Registry, log customsensor.Logger) *Repository {
	return &Repository{
		registry: registry,
		composer: customsensor.NewComposer(registry, log),
		sensors:  orderedmap.New[string, model.CustomSensor](),
	}
}

func (r *Repository) Name() string { return "customsensors" }

func (r *Repository) InitializeDevices(ctx context.Context) error {
	uid := model.NewDeviceUID(model.FamilyCustomSensors, model.CustomSensorsDeviceName, 1)
	info := model.DeviceInfo{Channels: map[string]model.ChannelInfo{}}
	r.device = model.NewDevice(uid, model.CustomSensorsDeviceName, model.FamilyCustomSensors, 1, info)
	r.device.InitializeHistory(model.Status{}, 16)
	r.registry.Register(r.device)
	return nil
}

func (r *Repository) Devices() []*model.Device {
	if r.device == nil {
		return nil
	}
	return []*model.Device{r.device}
}

// PreloadStatuses is a no-op: this adapter composes from already-updated
// sources rather than performing its own I/O.
func (r *Repository) PreloadStatuses(ctx context.Context) error { return nil }

// UpdateStatuses composes every configured sensor's current value and
// pushes a fresh Status; run after every other repository's
// UpdateStatuses in the Scheduler's phase ordering.
func (r *Repository) UpdateStatuses(ctx context.Context) {
	if r.device == nil {
		return
	}
	var temps []model.TempStatus
	for pair := r.sensors.Oldest(); pair != nil; pair = pair.Next() {
		v := r.composer.Evaluate(pair.Value)
		temps = append(temps, model.TempStatus{Name: pair.Key, Temp: v})
	}
	r.device.PushStatus(model.Status{Timestamp: time.Now(), Temps: temps})
}

// AddSensor registers a new sensor definition and retroactively fills the
// status-history ring (Mix: recompute over history, File:
// zero-pad all but the current tick).
func (r *Repository) AddSensor(cs model.CustomSensor) *model.CoreError {
	if err := cs.Validate(); err != nil {
		return err
	}
	r.sensors.Set(cs.ID, cs)
	if r.device != nil {
		r.composer.RetrofillAdd(r.device, cs)
	}
	return nil
}

// RemoveSensor deletes a sensor definition and purges its contribution from
// the ring.
func (r *Repository) RemoveSensor(id string) {
	r.sensors.Delete(id)
	if r.device != nil {
		r.composer.RetrofillRemove(r.device, id)
	}
}

// ApplySettingSpeedFixed: Custom Sensors is a read-only synthetic device;
// it has no channels to actuate.
func (r *Repository) ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error {
	return model.Unsupported("customsensors.apply_setting_speed_fixed")
}

func (r *Repository) Reset(ctx context.Context) error        { return nil }
func (r *Repository) Reinitialize(ctx context.Context) error { return r.InitializeDevices(ctx) }
func (r *Repository) Shutdown(ctx context.Context) error      { return nil }
