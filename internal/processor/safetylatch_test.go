package processor

import (
	"testing"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

func TestSafetyLatchTriggersOnFirstTick(t *testing.T) {
	l := NewSafetyLatch(nil)
	profile := model.Profile{UID: "sl1", PollRate: 1}
	l.InitState(profile.UID)

	out := l.Begin(SpeedProfileData{Profile: profile})
	if !out.SafetyLatchTrigger {
		t.Fatal("want latch triggered on the very first tick after InitState")
	}
}

func TestSafetyLatchResetsAfterDutyApplied(t *testing.T) {
	l := NewSafetyLatch(nil)
	profile := model.Profile{UID: "sl2", PollRate: 1}
	l.InitState(profile.UID)

	data := l.Begin(SpeedProfileData{Profile: profile})
	data.Duty = intPtr(50)
	data = l.End(data)

	data = l.Begin(SpeedProfileData{Profile: profile})
	if data.SafetyLatchTrigger {
		t.Fatal("want latch not triggered immediately after a duty was applied")
	}
}

func TestSafetyLatchRetriggersAfterMaxTicksWithoutDuty(t *testing.T) {
	l := NewSafetyLatch(nil)
	profile := model.Profile{
		UID:      "sl3",
		PollRate: 1,
		Function: model.Function{Kind: model.FunctionStandard, ResponseDelaySeconds: 10},
	}
	l.InitState(profile.UID)

	data := l.Begin(SpeedProfileData{Profile: profile})
	data.Duty = intPtr(50)
	data = l.End(data)

	want := initialMaxNoDutySetCount(profile)
	for i := 0; i < want; i++ {
		data = l.Begin(SpeedProfileData{Profile: profile})
		if data.SafetyLatchTrigger {
			t.Fatalf("tick %d/%d: premature retrigger", i+1, want)
		}
		data = l.End(data) // no duty applied this tick
	}

	data = l.Begin(SpeedProfileData{Profile: profile})
	if !data.SafetyLatchTrigger {
		t.Fatalf("tick %d: want retrigger after %d ticks without a duty", want, want)
	}
}

func TestInitialMaxNoDutySetCountClampsToRange(t *testing.T) {
	short := model.Profile{PollRate: 1, Function: model.Function{Kind: model.FunctionStandard, ResponseDelaySeconds: 1}}
	if got := initialMaxNoDutySetCount(short); got != 30 {
		t.Errorf("short response_delay: got %d, want clamp to 30", got)
	}

	long := model.Profile{PollRate: 1, Function: model.Function{Kind: model.FunctionStandard, ResponseDelaySeconds: 120}}
	if got := initialMaxNoDutySetCount(long); got != 60 {
		t.Errorf("long response_delay: got %d, want clamp to 60", got)
	}

	identity := model.Profile{PollRate: 1, Function: model.Function{Kind: model.FunctionIdentity}}
	if got := initialMaxNoDutySetCount(identity); got != 30 {
		t.Errorf("identity profile: got %d, want default 30", got)
	}
}

func TestInitialMaxNoDutySetCountRoundsUpFractionalTicks(t *testing.T) {
	profile := model.Profile{PollRate: 1, Function: model.Function{Kind: model.FunctionStandard, ResponseDelaySeconds: 31.3}}
	if got := initialMaxNoDutySetCount(profile); got != 32 {
		t.Errorf("response_delay 31.3s at poll_rate 1s: got %d, want ceil to 32", got)
	}
}
