package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/config"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/output"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository/customsensors"
)

func TestEnvOrUsesEnvironmentWhenSet(t *testing.T) {
	t.Setenv("COOLERD_TEST_ROOT", "/custom/sys")
	if got := envOr("COOLERD_TEST_ROOT", "/sys"); got != "/custom/sys" {
		t.Errorf("envOr = %q, want /custom/sys", got)
	}
}

func TestEnvOrFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("COOLERD_TEST_ROOT_UNSET")
	if got := envOr("COOLERD_TEST_ROOT_UNSET", "/sys"); got != "/sys" {
		t.Errorf("envOr = %q, want /sys", got)
	}
}

func TestPollRateOverrideParsesDuration(t *testing.T) {
	d, err := time.ParseDuration("500ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 500*time.Millisecond {
		t.Errorf("parsed %v, want 500ms", d)
	}
}

func TestPollRateOverrideRejectsGarbage(t *testing.T) {
	if _, err := time.ParseDuration("not-a-duration"); err == nil {
		t.Fatal("want an error for a malformed --poll-rate value")
	}
}

func TestPrintBindingsFormatsEachBinding(t *testing.T) {
	cfg := &config.Config{
		PollRate: 2.5,
		Bindings: []config.Binding{
			{
				Repository: "hwmon",
				Channel:    model.ChannelRef{DeviceUID: "dev-1", Name: "fan1"},
				Profile: model.Profile{
					UID:        "cpu-fan",
					TempSource: model.TempSource{DeviceUID: "cpu-1", TempName: "package"},
				},
			},
		},
	}

	out := captureStdout(t, func() { printBindings(cfg) })

	if !contains(out, "hwmon") || !contains(out, "dev-1/fan1") || !contains(out, "cpu-fan") {
		t.Errorf("unexpected binding summary: %q", out)
	}
	if !contains(out, "2.500s") {
		t.Errorf("want poll rate printed, got %q", out)
	}
}

// noopRepo stands in for hwmon/cpu/gpu/liquidctl in this test: none of
// them implement AddSensor, so wireCustomSensors must skip them via its
// type assertion rather than panic.
type noopRepo struct{}

func (noopRepo) Name() string                               { return "noop" }
func (noopRepo) InitializeDevices(ctx context.Context) error { return nil }
func (noopRepo) Devices() []*model.Device                    { return nil }
func (noopRepo) PreloadStatuses(ctx context.Context) error   { return nil }
func (noopRepo) UpdateStatuses(ctx context.Context)          {}
func (noopRepo) ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error {
	return nil
}
func (noopRepo) Reset(ctx context.Context) error        { return nil }
func (noopRepo) Reinitialize(ctx context.Context) error { return nil }
func (noopRepo) Shutdown(ctx context.Context) error     { return nil }

func TestWireCustomSensorsSkipsNonCustomSensorRepositories(t *testing.T) {
	registry := model.NewRegistry()
	csRepo := customsensors.New(registry, nil)
	if err := csRepo.InitializeDevices(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	registry.Register(csRepo.Devices()[0])

	repos := []repository.Repository{noopRepo{}, csRepo}
	sensors := []model.CustomSensor{{
		ID:      "avg-sensor",
		Kind:    model.CustomSensorMix,
		MixFn:   model.MixAvg,
		Sources: []model.WeightedSource{{Source: model.TempSource{DeviceUID: "x", TempName: "t"}, Weight: 1}},
	}}

	if err := wireCustomSensors(repos, sensors); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDisabledChannelSetFlattensOverrides(t *testing.T) {
	set := disabledChannelSet([]config.DeviceOverride{
		{UID: "dev-1", DisabledChannels: []string{"fan1", "fan2"}},
		{UID: "dev-2", DisabledChannels: []string{"pump"}},
	})
	for _, want := range []string{"dev-1/fan1", "dev-1/fan2", "dev-2/pump"} {
		if !set[want] {
			t.Errorf("missing disabled channel %q", want)
		}
	}
	if set["dev-1/pump"] {
		t.Error("dev-1/pump should not be disabled")
	}
}

func TestBuildRepositoriesReturnsOneAdapterPerFamily(t *testing.T) {
	registry := model.NewRegistry()
	log := output.NewLogger(true)
	repos := buildRepositories(registry, "http://127.0.0.1:6909", log)
	if len(repos) != 5 {
		t.Fatalf("want 5 repositories, got %d", len(repos))
	}
	names := map[string]bool{}
	for _, r := range repos {
		names[r.Name()] = true
	}
	for _, want := range []string{"hwmon", "cpu", "gpu", "liquidctl", "customsensors"} {
		if !names[want] {
			t.Errorf("missing repository %q among %v", want, names)
		}
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = orig

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func contains(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}
