package processor

import (
	"testing"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

func TestIdentityPassesThroughLatestTemp(t *testing.T) {
	reg, dev, ts := newTestDevice(t)
	pushTemp(dev, 42.5)

	p := NewIdentityPreProcessor(reg, nil)
	data := SpeedProfileData{Profile: model.Profile{TempSource: ts, Function: model.Function{Kind: model.FunctionIdentity}}}
	out := p.Process(data)

	if out.Temp == nil || *out.Temp != 42.5 {
		t.Fatalf("got %v, want 42.5", out.Temp)
	}
}

func TestIdentityEmitsEmergencyTempWhenSourceMissing(t *testing.T) {
	reg := model.NewRegistry()
	p := NewIdentityPreProcessor(reg, nil)
	data := SpeedProfileData{Profile: model.Profile{
		TempSource: model.TempSource{DeviceUID: "missing", TempName: "temp"},
		Function:   model.Function{Kind: model.FunctionIdentity},
	}}
	out := p.Process(data)
	if out.Temp == nil || *out.Temp != model.EmergencyMissingTemp {
		t.Fatalf("got %v, want emergency temp %v", out.Temp, model.EmergencyMissingTemp)
	}
}

func TestIdentityNotApplicableToOtherKinds(t *testing.T) {
	reg, _, ts := newTestDevice(t)
	p := NewIdentityPreProcessor(reg, nil)
	data := SpeedProfileData{Profile: model.Profile{TempSource: ts, Function: model.Function{Kind: model.FunctionStandard}}}
	if p.IsApplicable(data) {
		t.Fatal("want not applicable to Standard profiles")
	}
}
