package processor

import (
	"math"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// standardState is the per-profile state the Standard (hysteresis)
// pre-processor carries across ticks.
type standardState struct {
	stack           []float64 // FIFO, oldest first
	idealStackSize  int
	lastAppliedTemp float64 // 0 is the sentinel for "never applied"
}

// StandardPreProcessor implements the hysteresis shaping function: a delay
// buffer that forces a sustained deviation of at least response_delay
// seconds before a change propagates, plus a tolerance band that absorbs
// spikes inside that window.
type StandardPreProcessor struct {
	registry *model.Registry
	log      Logger
	state    map[string]*standardState
}

func NewStandardPreProcessor(registry *model.Registry, log Logger) *StandardPreProcessor {
	if log == nil {
		log = NopLogger
	}
	return &StandardPreProcessor{registry: registry, log: log, state: make(map[string]*standardState)}
}

func (p *StandardPreProcessor) IsApplicable(data SpeedProfileData) bool {
	return data.Profile.Function.Kind == model.FunctionStandard && data.Temp == nil
}

func (p *StandardPreProcessor) InitState(profileUID string) {
	p.state[profileUID] = &standardState{}
}

func (p *StandardPreProcessor) ClearState(profileUID string) {
	delete(p.state, profileUID)
}

// idealStackSize computes max(2, ceil(d/pollRate) + 1).
func idealStackSize(responseDelay, pollRate float64) int {
	ticks := int(math.Ceil(responseDelay/pollRate)) + 1
	if ticks < 2 {
		ticks = 2
	}
	return ticks
}

// RequiredHistoryCapacity returns how many status-history ring entries a
// profile's shaping function needs to never truncate its lookback window.
// EMA always reads a fixed 16-sample window; Standard additionally needs
// its response-delay-sized stack.
func RequiredHistoryCapacity(fn model.Function, pollRate float64) int {
	if pollRate <= 0 {
		pollRate = 1
	}
	need := emaSampleSize
	if fn.Kind == model.FunctionStandard {
		if s := idealStackSize(fn.ResponseDelaySeconds, pollRate); s > need {
			need = s
		}
	}
	return need
}

// fillTempStack primes or advances the delay window: on cold start
// (lastAppliedTemp == 0) it rebuilds the whole window from the device's
// history ring; otherwise it pushes just this tick's reading.
func (p *StandardPreProcessor) fillTempStack(st *standardState, data SpeedProfileData) {
	if st.lastAppliedTemp == 0 {
		window := p.registry.TempHistory(data.Profile.TempSource, st.idealStackSize)
		if len(window) == 0 {
			p.log.Errorf("standard: temp source %s/%s missing, using emergency temp",
				data.Profile.TempSource.DeviceUID, data.Profile.TempSource.TempName)
			st.stack = []float64{model.EmergencyMissingTemp}
			return
		}
		st.stack = append(st.stack[:0], window...)
		return
	}
	current, ok := p.registry.Temp(data.Profile.TempSource)
	if !ok {
		p.log.Errorf("standard: temp source %s/%s missing, using emergency temp",
			data.Profile.TempSource.DeviceUID, data.Profile.TempSource.TempName)
		current = model.EmergencyMissingTemp
	}
	st.stack = append(st.stack, current)
}

func (p *StandardPreProcessor) Process(data SpeedProfileData) SpeedProfileData {
	st, ok := p.state[data.Profile.UID]
	if !ok {
		st = &standardState{}
		p.state[data.Profile.UID] = st
	}

	fn := data.Profile.Function
	pollRate := data.Profile.PollRate
	if pollRate <= 0 {
		pollRate = 1
	}
	if st.idealStackSize == 0 {
		st.idealStackSize = idealStackSize(fn.ResponseDelaySeconds, pollRate)
	}

	p.fillTempStack(st, data)

	if len(st.stack) > st.idealStackSize {
		st.stack = st.stack[1:]
	} else if st.lastAppliedTemp == 0 && len(st.stack) < st.idealStackSize {
		// Very first run: apply the front sample right away, so a
		// freshly-installed binding emits a duty on its first eligible
		// tick.
		applied := st.stack[0]
		data.Temp = floatPtr(applied)
		st.lastAppliedTemp = nonZeroSentinel(applied)
		return data
	}

	if fn.OnlyDownward {
		newest := st.stack[len(st.stack)-1]
		if newest > st.lastAppliedTemp {
			st.stack = []float64{newest}
			data.Temp = floatPtr(newest)
			st.lastAppliedTemp = nonZeroSentinel(newest)
			return data
		}
	}

	oldest := st.stack[0]
	oldestWithin := withinTolerance(oldest, st.lastAppliedTemp, fn.Deviance)
	if len(st.stack) > 2 {
		newest := st.stack[len(st.stack)-1]
		newestWithin := withinTolerance(newest, st.lastAppliedTemp, fn.Deviance)
		if oldestWithin && newestWithin {
			// Absorb spikes that happened within the delay window: every
			// entry but the newest collapses to the oldest value.
			for i := 0; i < len(st.stack)-1; i++ {
				st.stack[i] = oldest
			}
		}
	}

	if oldestWithin && !data.SafetyLatchTrigger {
		return data
	}
	data.Temp = floatPtr(oldest)
	st.lastAppliedTemp = nonZeroSentinel(oldest)
	return data
}

func withinTolerance(temp, lastApplied, deviance float64) bool {
	return temp <= lastApplied+deviance && temp >= lastApplied-deviance
}

// nonZeroSentinel guards against the "never applied" sentinel (0) being
// re-armed by a genuine 0°C reading, which would incorrectly re-trigger
// the cold-start path on the next tick. A literal 0°C sample is
// vanishingly rare for real cooling sensors; nudging it by an epsilon
// preserves "0 means never applied" without perturbing any tolerance
// comparison at sensor precision.
func nonZeroSentinel(v float64) float64 {
	if v == 0 {
		return 1e-9
	}
	return v
}
