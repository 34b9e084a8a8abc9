package processor

// dutyThresholdState is the per-profile state the Duty Threshold
// post-processor carries across ticks.
type dutyThresholdState struct {
	lastManualSpeedsSet []int // FIFO, capacity maxDutySampleSize
}

const maxDutySampleSize = 20

// DutyThresholdPostProcessor gates the magnitude of duty changes: a
// change smaller than duty_minimum is suppressed (unless the safety latch
// is forcing reassertion), and a change larger than duty_maximum is
// clamped to last±duty_maximum.
type DutyThresholdPostProcessor struct {
	log   Logger
	state map[string]*dutyThresholdState
}

func NewDutyThresholdPostProcessor(log Logger) *DutyThresholdPostProcessor {
	if log == nil {
		log = NopLogger
	}
	return &DutyThresholdPostProcessor{log: log, state: make(map[string]*dutyThresholdState)}
}

func (p *DutyThresholdPostProcessor) IsApplicable(data SpeedProfileData) bool {
	return data.Duty != nil
}

func (p *DutyThresholdPostProcessor) InitState(profileUID string) {
	p.state[profileUID] = &dutyThresholdState{}
}

func (p *DutyThresholdPostProcessor) ClearState(profileUID string) {
	delete(p.state, profileUID)
}

func (p *DutyThresholdPostProcessor) Process(data SpeedProfileData) SpeedProfileData {
	st, ok := p.state[data.Profile.UID]
	if !ok {
		st = &dutyThresholdState{}
		p.state[data.Profile.UID] = st
	}

	duty := *data.Duty

	// First application: nothing to compare against, apply unconditionally.
	if len(st.lastManualSpeedsSet) == 0 {
		st.push(duty)
		data.Duty = intPtr(duty)
		return data
	}

	last := st.lastManualSpeedsSet[len(st.lastManualSpeedsSet)-1]
	diff := duty - last
	if diff < 0 {
		diff = -diff
	}

	fn := data.Profile.Function
	if diff < fn.DutyMinimum && !data.SafetyLatchTrigger {
		data.Duty = nil
		p.log.Debugf("duty threshold: %d within %d of last %d, suppressing", duty, fn.DutyMinimum, last)
		return data
	}
	if diff > fn.DutyMaximum {
		if duty < last {
			duty = last - fn.DutyMaximum
		} else {
			duty = last + fn.DutyMaximum
		}
	}

	st.push(duty)
	data.Duty = intPtr(duty)
	return data
}

func (s *dutyThresholdState) push(duty int) {
	s.lastManualSpeedsSet = append(s.lastManualSpeedsSet, duty)
	if len(s.lastManualSpeedsSet) > maxDutySampleSize {
		s.lastManualSpeedsSet = s.lastManualSpeedsSet[1:]
	}
}
