package processor

import (
	"math"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// emaSampleSize caps how many historical readings feed the shaping window,
// independent of the configured SampleWindow. Keeping the sample count low
// lets the average stay forward-aggressive; with a longer tail the shaped
// value lags the live reading for far too long.
const emaSampleSize = 16

// emaDefaultWindow is used when Function.SampleWindow is unset/zero.
const emaDefaultWindow = 8

// EMAPreProcessor shapes temperature with a triple-smoothed exponential
// moving average. It carries no per-profile state: each tick recomputes
// from the device's status-history ring.
type EMAPreProcessor struct {
	registry *model.Registry
	log      Logger
}

func NewEMAPreProcessor(registry *model.Registry, log Logger) *EMAPreProcessor {
	if log == nil {
		log = NopLogger
	}
	return &EMAPreProcessor{registry: registry, log: log}
}

func (p *EMAPreProcessor) IsApplicable(data SpeedProfileData) bool {
	return data.Profile.Function.Kind == model.FunctionEMA && data.Temp == nil
}

func (p *EMAPreProcessor) InitState(string)  {}
func (p *EMAPreProcessor) ClearState(string) {}

func (p *EMAPreProcessor) Process(data SpeedProfileData) SpeedProfileData {
	temps := p.registry.TempHistory(data.Profile.TempSource, emaSampleSize)
	if len(temps) == 0 {
		p.log.Errorf("ema: temp source %s/%s missing, emitting emergency temp",
			data.Profile.TempSource.DeviceUID, data.Profile.TempSource.TempName)
		data.Temp = floatPtr(model.EmergencyMissingTemp)
		return data
	}
	window := data.Profile.Function.SampleWindow
	if window <= 0 {
		window = emaDefaultWindow
	}
	data.Temp = floatPtr(ExponentialMovingAverage(temps, window))
	return data
}

// ExponentialMovingAverage runs three cascaded exponential moving averages
// (alpha = 2/(window+1), each stage seeded with the first sample) over temps,
// oldest first, and returns the final stage's last value rounded to two
// decimal places. The triple cascade smooths single-tick spikes much harder
// than one EMA pass while still converging on a sustained change, and the
// first-sample seed means a constant series yields exactly that constant.
func ExponentialMovingAverage(temps []float64, window int) float64 {
	if window <= 0 {
		window = emaDefaultWindow
	}
	alpha := 2.0 / (float64(window) + 1.0)
	e1, e2, e3 := temps[0], temps[0], temps[0]
	for _, v := range temps {
		e1 += (v - e1) * alpha
		e2 += (e1 - e2) * alpha
		e3 += (e2 - e3) * alpha
	}
	return math.Round(e3*100) / 100
}
