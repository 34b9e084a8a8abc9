package customsensors

import (
	"context"
	"testing"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/customsensor"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

func TestAddComputesSensorOnNextTick(t *testing.T) {
	reg := model.NewRegistry()
	src := model.NewDevice("src", "Source", model.FamilyHwmon, 1, model.DeviceInfo{})
	src.InitializeHistory(model.Status{Temps: []model.TempStatus{{Name: "t", Temp: 40}}}, 16)
	reg.Register(src)

	r := New(reg, customsensor.NopLogger)
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}

	cs := model.CustomSensor{
		ID:      "avgsrc",
		Kind:    model.CustomSensorMix,
		MixFn:   model.MixAvg,
		Sources: []model.WeightedSource{{Source: model.TempSource{DeviceUID: "src", TempName: "t"}, Weight: 1}},
	}
	if err := r.AddSensor(cs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.UpdateStatuses(ctx)
	st, ok := r.Devices()[0].CurrentStatus()
	if !ok {
		t.Fatal("expected a status")
	}
	v, ok := st.TempByName("avgsrc")
	if !ok || v != 40 {
		t.Fatalf("expected avgsrc=40, got %v (ok=%v)", v, ok)
	}
}

func TestAddThenDeleteLeavesHistoryIdentical(t *testing.T) {
	reg := model.NewRegistry()
	r := New(reg, customsensor.NopLogger)
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	r.UpdateStatuses(ctx)
	r.UpdateStatuses(ctx)

	dev := r.Devices()[0]
	before := append([]model.Status(nil), dev.History()...)

	cs := model.CustomSensor{ID: "tmp", Kind: model.CustomSensorFile, FilePath: "/nonexistent"}
	if err := r.AddSensor(cs); err != nil {
		t.Fatal(err)
	}
	r.RemoveSensor("tmp")

	after := dev.History()
	if len(after) != len(before) {
		t.Fatalf("expected unchanged ring length, got %d vs %d", len(after), len(before))
	}
	for i := range before {
		if _, ok := after[i].TempByName("tmp"); ok {
			t.Fatalf("expected entry %d to have no trace of the removed sensor", i)
		}
	}
}
