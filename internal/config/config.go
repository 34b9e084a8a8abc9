// Package config loads the on-disk engine configuration:
// devices, profiles bound to channels, custom sensors, and the shared poll
// rate, parsed from YAML into the in-memory model the engine consumes.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// DeviceOverride carries the per-device knobs discovery alone cannot
// determine: channels to leave untouched, and a laptop_fallback flag.
// LaptopFallback is parsed but not read anywhere; the hwmon adapter's
// Reset chooses the automatic-mode fallback by driver name alone.
type DeviceOverride struct {
	UID              string   `yaml:"uid"`
	DisabledChannels []string `yaml:"disabled_channels,omitempty"`
	LaptopFallback   bool     `yaml:"laptop_fallback,omitempty"`
}

// FunctionConfig is Function's YAML shape; Kind is a string so the document
// reads naturally ("identity"/"standard"/"ema") instead of a raw int.
type FunctionConfig struct {
	Kind                 string  `yaml:"kind"`
	ResponseDelaySeconds float64 `yaml:"response_delay_seconds,omitempty"`
	Deviance             float64 `yaml:"deviance,omitempty"`
	OnlyDownward         bool    `yaml:"only_downward,omitempty"`
	SampleWindow         int     `yaml:"sample_window,omitempty"`
	DutyMinimum          int     `yaml:"duty_minimum"`
	DutyMaximum          int     `yaml:"duty_maximum"`
}

func (f FunctionConfig) toModel() (model.Function, *model.CoreError) {
	var kind model.FunctionKind
	switch f.Kind {
	case "identity", "":
		kind = model.FunctionIdentity
	case "standard":
		kind = model.FunctionStandard
	case "ema":
		kind = model.FunctionEMA
		if f.SampleWindow == 0 {
			f.SampleWindow = 8
		}
	default:
		return model.Function{}, model.UserError("config.function", "unknown function kind: "+f.Kind)
	}
	return model.Function{
		Kind:                 kind,
		ResponseDelaySeconds: f.ResponseDelaySeconds,
		Deviance:             f.Deviance,
		OnlyDownward:         f.OnlyDownward,
		SampleWindow:         f.SampleWindow,
		DutyMinimum:          f.DutyMinimum,
		DutyMaximum:          f.DutyMaximum,
	}, nil
}

// SpeedProfilePointConfig is one (temp, duty) breakpoint.
type SpeedProfilePointConfig struct {
	Temp float64 `yaml:"temp"`
	Duty int     `yaml:"duty"`
}

// ProfileConfig binds a Function + speed_profile to a channel owned by a
// named repository ("hwmon", "cpu", "gpu", "liquidctl"), the piece
// model.Profile itself does not carry, since the Processor Chain and
// Scheduler are decoupled.
type ProfileConfig struct {
	UID             string                    `yaml:"uid"`
	Repository      string                    `yaml:"repository"`
	DeviceUID       string                    `yaml:"device_uid"`
	Channel         string                    `yaml:"channel"`
	TempDeviceUID   string                    `yaml:"temp_device_uid"`
	TempName        string                    `yaml:"temp_name"`
	Function        FunctionConfig            `yaml:"function"`
	SpeedProfile    []SpeedProfilePointConfig `yaml:"speed_profile"`
	PollRateSeconds float64                   `yaml:"poll_rate_seconds,omitempty"`
}

// WeightedSourceConfig is one weighted input to a Mix custom sensor.
type WeightedSourceConfig struct {
	DeviceUID string  `yaml:"device_uid"`
	TempName  string  `yaml:"temp_name"`
	Weight    float64 `yaml:"weight,omitempty"`
}

// CustomSensorConfig is a Mix or File custom sensor definition.
type CustomSensorConfig struct {
	ID       string                 `yaml:"id"`
	Kind     string                 `yaml:"kind"` // "mix" or "file"
	MixFn    string                 `yaml:"mix_function,omitempty"`
	Sources  []WeightedSourceConfig `yaml:"sources,omitempty"`
	FilePath string                 `yaml:"file_path,omitempty"`
}

func (c CustomSensorConfig) toModel() (model.CustomSensor, *model.CoreError) {
	cs := model.CustomSensor{ID: c.ID, FilePath: c.FilePath}
	switch c.Kind {
	case "mix":
		cs.Kind = model.CustomSensorMix
	case "file":
		cs.Kind = model.CustomSensorFile
	default:
		return model.CustomSensor{}, model.UserError("config.custom_sensor", "unknown kind: "+c.Kind)
	}
	switch c.MixFn {
	case "min":
		cs.MixFn = model.MixMin
	case "max":
		cs.MixFn = model.MixMax
	case "avg", "":
		cs.MixFn = model.MixAvg
	case "weighted_avg":
		cs.MixFn = model.MixWeightedAvg
	case "delta":
		cs.MixFn = model.MixDelta
	default:
		return model.CustomSensor{}, model.UserError("config.custom_sensor", "unknown mix_function: "+c.MixFn)
	}
	for _, s := range c.Sources {
		cs.Sources = append(cs.Sources, model.WeightedSource{
			Source: model.TempSource{DeviceUID: s.DeviceUID, TempName: s.TempName},
			Weight: s.Weight,
		})
	}
	if err := cs.Validate(); err != nil {
		return model.CustomSensor{}, err
	}
	return cs, nil
}

// Document is the root YAML shape.
type Document struct {
	PollRateSeconds float64              `yaml:"poll_rate_seconds"`
	Devices         []DeviceOverride     `yaml:"devices,omitempty"`
	Profiles        []ProfileConfig      `yaml:"profiles"`
	CustomSensors   []CustomSensorConfig `yaml:"custom_sensors,omitempty"`
}

// Binding is a fully-validated (repository, channel, profile) triple ready
// for Scheduler.Bind.
type Binding struct {
	Repository string
	Channel    model.ChannelRef
	Profile    model.Profile
}

// Config is the parsed, validated result of Load.
type Config struct {
	PollRate      float64
	Devices       []DeviceOverride
	Bindings      []Binding
	CustomSensors []model.CustomSensor
}

// Load reads and validates path, returning model.UserError (never a bare Go
// error) for any malformed or semantically invalid document; config
// errors are always fatal at startup, never surfaced mid-tick.
func Load(path string) (*Config, *model.CoreError) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.UserError("config.load", "reading "+path+": "+err.Error())
	}
	return Parse(raw)
}

// Parse validates an in-memory YAML document, used directly by tests and by
// `coolerd validate-config`.
func Parse(raw []byte) (*Config, *model.CoreError) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, model.UserError("config.parse", "invalid yaml: "+err.Error())
	}

	if doc.PollRateSeconds <= 0 {
		doc.PollRateSeconds = 1.0
	}

	cfg := &Config{PollRate: doc.PollRateSeconds, Devices: doc.Devices}

	seen := make(map[string]bool, len(doc.Profiles))
	for _, pc := range doc.Profiles {
		if pc.UID == "" {
			return nil, model.UserError("config.profile", "profile uid must not be empty")
		}
		if seen[pc.UID] {
			return nil, model.UserError("config.profile", "duplicate profile uid: "+pc.UID)
		}
		seen[pc.UID] = true

		if pc.Repository == "" || pc.Channel == "" || pc.DeviceUID == "" {
			return nil, model.UserError("config.profile", "profile "+pc.UID+": repository, device_uid and channel are required")
		}
		if pc.TempDeviceUID == "" || pc.TempName == "" {
			return nil, model.UserError("config.profile", "profile "+pc.UID+": temp_device_uid and temp_name are required")
		}

		fn, ferr := pc.Function.toModel()
		if ferr != nil {
			return nil, ferr
		}

		pollRate := pc.PollRateSeconds
		if pollRate <= 0 {
			pollRate = doc.PollRateSeconds
		}

		var points []model.SpeedProfilePoint
		for _, p := range pc.SpeedProfile {
			points = append(points, model.SpeedProfilePoint{Temp: p.Temp, Duty: p.Duty})
		}

		profile := model.Profile{
			UID:          pc.UID,
			TempSource:   model.TempSource{DeviceUID: pc.TempDeviceUID, TempName: pc.TempName},
			Function:     fn,
			SpeedProfile: points,
			PollRate:     pollRate,
		}
		if verr := profile.Validate(); verr != nil {
			return nil, verr
		}

		cfg.Bindings = append(cfg.Bindings, Binding{
			Repository: pc.Repository,
			Channel:    model.ChannelRef{DeviceUID: pc.DeviceUID, Name: pc.Channel},
			Profile:    profile,
		})
	}

	seenSensor := make(map[string]bool, len(doc.CustomSensors))
	for _, sc := range doc.CustomSensors {
		if seenSensor[sc.ID] {
			return nil, model.UserError("config.custom_sensor", "duplicate custom sensor id: "+sc.ID)
		}
		seenSensor[sc.ID] = true
		cs, serr := sc.toModel()
		if serr != nil {
			return nil, serr
		}
		cfg.CustomSensors = append(cfg.CustomSensors, cs)
	}

	return cfg, nil
}
