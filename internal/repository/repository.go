// Package repository defines the uniform adapter boundary around each
// device family: hwmon, CPU, GPU, the USB-cooler (liquidctl) helper, and
// Custom Sensors. Each family implements one small interface, selected and
// fanned out by the Scheduler rather than called directly.
package repository

import (
	"context"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// Repository is the uniform adapter boundary around one device family:
// enumerate devices, preload, snapshot, apply-per-channel, reset, shutdown,
// reinitialize.
type Repository interface {
	// Name identifies the repository for logging, e.g. "hwmon", "cpu".
	Name() string

	// InitializeDevices discovers hardware and constructs Device records
	// with an initial Status and fully populated DeviceInfo. Fails with
	// model.KindInit if mandatory discovery input is absent.
	InitializeDevices(ctx context.Context) error

	// Devices returns the Devices owned by this repository. Ownership is
	// exclusive: no other repository may mutate these records.
	Devices() []*model.Device

	// PreloadStatuses performs the potentially-blocking I/O for a single
	// tick and stores results in an internal per-device scratch map (the
	// bundled adapters key it by device UID, not by type-index). Must not
	// mutate Device records. The repository may
	// internally parallelize but must finish before returning.
	PreloadStatuses(ctx context.Context) error

	// UpdateStatuses consumes the scratch populated by PreloadStatuses and
	// performs the only write to Device records allowed during a tick.
	UpdateStatuses(ctx context.Context)

	// ApplySettingSpeedFixed commands a fixed duty percentage on a channel.
	// Repositories that do not support fixed-duty actuation fail with
	// model.KindUnsupportedOperation.
	ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error

	// Reset returns channels to their automatic/default behavior.
	Reset(ctx context.Context) error

	// Reinitialize re-runs discovery, e.g. after a transient failure or a
	// hot-plug notification.
	Reinitialize(ctx context.Context) error

	// Shutdown releases any held resources (file descriptors, the helper
	// RPC socket) on every exit path.
	Shutdown(ctx context.Context) error
}

// PreloadDeadline is an optional capability: adapters whose preload talks
// to slow external collaborators report their own per-tick deadlines (the
// first tick may be allowed a longer warm-up). Adapters that don't
// implement it get the scheduler's default deadline.
type PreloadDeadline interface {
	PreloadDeadlineDefault() (first, subsequent int64) // milliseconds
}
