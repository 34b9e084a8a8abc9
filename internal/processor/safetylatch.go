package processor

import (
	"math"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

const (
	minNoDutySetSeconds     = 30.0
	maxNoDutySetSeconds     = 60.0
	defaultNoDutySetSeconds = 30.0
)

// safetyLatchState is the per-profile state the Safety Latch carries
// across ticks.
type safetyLatchState struct {
	noDutySetCounter   int
	maxNoDutySetCount  int
}

// SafetyLatch is the watchdog processor that forces at least one duty
// reassertion every maxNoDutySetCount ticks, regardless of how small the
// change-magnitude threshold would otherwise suppress it. It occupies two
// positions in the Processor Chain, Begin and End, via the beginLatch and
// endLatch adapters in processor.go.
type SafetyLatch struct {
	log   Logger
	state map[string]*safetyLatchState
}

func NewSafetyLatch(log Logger) *SafetyLatch {
	if log == nil {
		log = NopLogger
	}
	return &SafetyLatch{log: log, state: make(map[string]*safetyLatchState)}
}

func (l *SafetyLatch) InitState(profileUID string) {
	l.state[profileUID] = &safetyLatchState{
		// MAX forces the latch to trigger on initialization, including
		// the very first tick and re-installation after a detach/attach
		// cycle, so a freshly-installed binding produces a duty
		// on its very first eligible tick.
		noDutySetCounter: math.MaxInt32,
	}
}

func (l *SafetyLatch) ClearState(profileUID string) {
	delete(l.state, profileUID)
}

// Begin runs at the head of the chain: it decides whether this tick's
// duty must be forced regardless of downstream suppression, and sets
// ProcessingStarted on the data.
func (l *SafetyLatch) Begin(data SpeedProfileData) SpeedProfileData {
	st := l.stateFor(data.Profile.UID)
	if st.maxNoDutySetCount == 0 {
		st.maxNoDutySetCount = initialMaxNoDutySetCount(data.Profile)
	}
	if st.noDutySetCounter >= st.maxNoDutySetCount {
		data.SafetyLatchTrigger = true
	}
	data.ProcessingStarted = true
	return data
}

// End runs at the tail of the chain: it resets the counter if a duty was
// applied this tick, or increments it otherwise, logging an Internal error
// if the latch was triggered but the chain still produced no duty, which
// would indicate the Duty Threshold post-processor's safety-latch bypass
// is broken.
func (l *SafetyLatch) End(data SpeedProfileData) SpeedProfileData {
	st := l.stateFor(data.Profile.UID)
	if data.Duty != nil {
		st.noDutySetCounter = 0
		return data
	}
	if data.SafetyLatchTrigger {
		l.log.Errorf("safety latch: profile %s triggered but no duty was applied this tick", data.Profile.UID)
	}
	st.noDutySetCounter++
	return data
}

func (l *SafetyLatch) stateFor(profileUID string) *safetyLatchState {
	st, ok := l.state[profileUID]
	if !ok {
		st = &safetyLatchState{noDutySetCounter: math.MaxInt32}
		l.state[profileUID] = st
	}
	return st
}

// initialMaxNoDutySetCount computes the tick count after which the
// safety latch forces reassertion: derived from the
// Standard function's response delay when present, clamped to [30,60]
// seconds' worth of ticks; otherwise a flat 30 seconds' worth.
func initialMaxNoDutySetCount(profile model.Profile) int {
	pollRate := profile.PollRate
	if pollRate <= 0 {
		pollRate = 1
	}
	if profile.Function.Kind == model.FunctionStandard && profile.Function.ResponseDelaySeconds > 0 {
		ticks := math.Ceil(profile.Function.ResponseDelaySeconds / pollRate)
		minTicks := math.Ceil(minNoDutySetSeconds / pollRate)
		maxTicks := math.Ceil(maxNoDutySetSeconds / pollRate)
		if ticks < minTicks {
			ticks = minTicks
		}
		if ticks > maxTicks {
			ticks = maxTicks
		}
		return int(ticks)
	}
	return int(math.Ceil(defaultNoDutySetSeconds / pollRate))
}
