package model

import "testing"

func validFunction() Function {
	return Function{Kind: FunctionEMA, SampleWindow: 8, DutyMinimum: 2, DutyMaximum: 20}
}

func TestFunctionValidateBoundaryExtremesAccepted(t *testing.T) {
	f := validFunction()
	f.DutyMinimum = 1
	f.DutyMaximum = 100
	if err := f.Validate(); err != nil {
		t.Fatalf("expected legal extremes to be accepted, got %v", err)
	}
}

func TestFunctionValidateRejectsInvertedBounds(t *testing.T) {
	f := validFunction()
	f.DutyMinimum = 50
	f.DutyMaximum = 50
	if err := f.Validate(); err == nil {
		t.Fatal("expected duty_minimum >= duty_maximum to be rejected")
	}
}

func TestProfileValidateRejectsNonIncreasingX(t *testing.T) {
	p := Profile{
		Function:     validFunction(),
		SpeedProfile: []SpeedProfilePoint{{Temp: 30, Duty: 20}, {Temp: 30, Duty: 40}},
		PollRate:     1,
	}
	if err := p.Validate(); err == nil {
		t.Fatal("expected duplicate x to be rejected")
	}
}

func TestProfileValidateAcceptsWellFormed(t *testing.T) {
	p := Profile{
		Function:     validFunction(),
		SpeedProfile: []SpeedProfilePoint{{Temp: 30, Duty: 20}, {Temp: 60, Duty: 80}},
		PollRate:     1,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected well-formed profile to validate, got %v", err)
	}
}
