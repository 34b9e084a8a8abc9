package customsensor

import (
	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// Logger is the minimal sink the composer needs: a debug line for the
// missing-source substitution described below, and an error line for
// file-sensor read failures that must not abort the tick.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}

// NopLogger is a Logger that discards everything, for callers (and tests)
// that don't care about composer diagnostics.
var NopLogger Logger = nopLogger{}

// Composer evaluates CustomSensor definitions against a device Registry.
// It holds no per-sensor state of its own: Mix sensors are pure functions
// of the current snapshot, and File sensors are read fresh every tick.
type Composer struct {
	registry *model.Registry
	log      Logger
}

func NewComposer(registry *model.Registry, log Logger) *Composer {
	if log == nil {
		log = NopLogger
	}
	return &Composer{registry: registry, log: log}
}

// Evaluate computes the current temperature for one CustomSensor. File read
// errors are logged and yield 0 °C rather than aborting the tick.
func (c *Composer) Evaluate(cs model.CustomSensor) float64 {
	switch cs.Kind {
	case model.CustomSensorFile:
		v, err := ReadFileSensor(cs.FilePath)
		if err != nil {
			c.log.Errorf("custom sensor %q: file read failed: %v", cs.ID, err)
			return 0
		}
		return v
	default:
		return c.evaluateMix(cs)
	}
}

func (c *Composer) evaluateMix(cs model.CustomSensor) float64 {
	inputs := c.sourceInputs(cs.Sources)
	switch cs.MixFn {
	case model.MixMin:
		return Min(inputs)
	case model.MixMax:
		return Max(inputs)
	case model.MixAvg:
		return Avg(inputs)
	case model.MixWeightedAvg:
		return WeightedAvg(inputs)
	case model.MixDelta:
		return Delta(inputs)
	default:
		return Avg(inputs)
	}
}

// sourceInputs resolves each WeightedSource against the current snapshot.
// Missing source devices/temperatures are skipped; when nothing at all
// resolves, a single {0, weight:1} pair stands in so the mix functions
// still have an input, and a debug line records the substitution.
func (c *Composer) sourceInputs(sources []model.WeightedSource) []WeightedTemp {
	if len(sources) == 0 {
		return nil
	}
	out := make([]WeightedTemp, 0, len(sources))
	for _, s := range sources {
		temp, ok := c.registry.Temp(s.Source)
		if !ok {
			c.log.Debugf("custom sensor source %s/%s missing, skipping", s.Source.DeviceUID, s.Source.TempName)
			continue
		}
		out = append(out, WeightedTemp{Temp: temp, Weight: s.Weight})
	}
	if len(out) == 0 {
		c.log.Debugf("no temp data resolved for custom sensor sources, filling with zeros")
		out = append(out, WeightedTemp{Temp: 0, Weight: 1})
	}
	return out
}

// RetrofillAdd reconstructs a device's entire status-history ring to carry
// a newly-added sensor's contribution across every past tick. Mix sensors
// are recomputed over history, walking each source device's ring in
// lockstep (all rings advance on the same scheduler cadence); File sensors
// are zero-padded for every tick but the current one, since a file's past
// readings cannot be reconstructed.
func (c *Composer) RetrofillAdd(device *model.Device, cs model.CustomSensor) {
	hist := device.History()
	if len(hist) == 0 {
		return
	}
	out := make([]model.Status, len(hist))
	copy(out, hist)

	for i := range out {
		var v float64
		if cs.Kind == model.CustomSensorFile {
			if i == len(out)-1 {
				v = c.Evaluate(cs)
			} else {
				v = 0
			}
		} else {
			v = c.evaluateMixAtHistoryIndex(cs, i, len(hist))
		}
		out[i] = withTemp(out[i], cs.ID, v)
	}
	device.ReplaceHistory(out)
}

// evaluateMixAtHistoryIndex recomputes a Mix sensor's value at a given past
// tick by reading each source device's own ring at the same index counted
// from the end (newest-last), which is valid because all devices' rings
// advance in lockstep with the scheduler tick.
func (c *Composer) evaluateMixAtHistoryIndex(cs model.CustomSensor, idxFromStart, totalLen int) float64 {
	fromEnd := totalLen - idxFromStart
	inputs := make([]WeightedTemp, 0, len(cs.Sources))
	for _, s := range cs.Sources {
		dev, ok := c.registry.Lookup(s.Source.DeviceUID)
		if !ok {
			continue
		}
		h := dev.History()
		pos := len(h) - fromEnd
		if pos < 0 || pos >= len(h) {
			continue
		}
		temp, ok := h[pos].TempByName(s.Source.TempName)
		if !ok {
			continue
		}
		inputs = append(inputs, WeightedTemp{Temp: temp, Weight: s.Weight})
	}
	if len(inputs) == 0 {
		inputs = append(inputs, WeightedTemp{Temp: 0, Weight: 1})
	}
	switch cs.MixFn {
	case model.MixMin:
		return Min(inputs)
	case model.MixMax:
		return Max(inputs)
	case model.MixAvg:
		return Avg(inputs)
	case model.MixWeightedAvg:
		return WeightedAvg(inputs)
	case model.MixDelta:
		return Delta(inputs)
	default:
		return Avg(inputs)
	}
}

// RetrofillRemove purges a sensor's contribution from every entry in a
// device's ring.
func (c *Composer) RetrofillRemove(device *model.Device, sensorID string) {
	hist := device.History()
	out := make([]model.Status, len(hist))
	for i, s := range hist {
		out[i] = withoutTemp(s, sensorID)
	}
	device.ReplaceHistory(out)
}

func withTemp(s model.Status, name string, value float64) model.Status {
	out := withoutTemp(s, name)
	out.Temps = append(out.Temps, model.TempStatus{Name: name, Temp: value})
	return out
}

func withoutTemp(s model.Status, name string) model.Status {
	out := s
	out.Temps = nil
	for _, t := range s.Temps {
		if t.Name == name {
			continue
		}
		out.Temps = append(out.Temps, t)
	}
	return out
}
