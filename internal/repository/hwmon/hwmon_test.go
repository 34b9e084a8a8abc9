package hwmon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fakeSysRoot(t *testing.T) string {
	root := t.TempDir()
	hw := filepath.Join(root, "class", "hwmon", "hwmon0")
	writeFile(t, filepath.Join(hw, "name"), "k10temp\n")
	writeFile(t, filepath.Join(hw, "temp1_input"), "45000\n")
	writeFile(t, filepath.Join(hw, "temp1_label"), "Tctl\n")
	writeFile(t, filepath.Join(hw, "pwm1"), "128\n")
	writeFile(t, filepath.Join(hw, "fan1_input"), "1200\n")
	writeFile(t, filepath.Join(hw, "uevent"), "DRIVER=k10temp\n")
	return root
}

func TestInitializeDevicesDiscoversNode(t *testing.T) {
	r := New(fakeSysRoot(t))
	if err := r.InitializeDevices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	devs := r.Devices()
	if len(devs) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devs))
	}
	if devs[0].Name != "k10temp" {
		t.Fatalf("expected name k10temp, got %q", devs[0].Name)
	}
	if len(devs[0].Info.Temps) != 1 || devs[0].Info.Temps[0] != "Tctl" {
		t.Fatalf("expected temp catalog [Tctl], got %v", devs[0].Info.Temps)
	}
	if _, ok := devs[0].Info.Channels["pwm1"]; !ok {
		t.Fatal("expected pwm1 channel classified")
	}
}

func TestPreloadAndUpdateStatusesPopulatesHistory(t *testing.T) {
	r := New(fakeSysRoot(t))
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.PreloadStatuses(ctx); err != nil {
		t.Fatal(err)
	}
	r.UpdateStatuses(ctx)

	d := r.Devices()[0]
	st, ok := d.CurrentStatus()
	if !ok {
		t.Fatal("expected a current status after update")
	}
	temp, ok := st.TempByName("Tctl")
	if !ok || temp != 45.0 {
		t.Fatalf("expected Tctl=45.0, got %v (ok=%v)", temp, ok)
	}
	ch, ok := st.ChannelByName("pwm1")
	if !ok || ch.Duty == nil {
		t.Fatal("expected pwm1 channel with duty")
	}
	wantDuty := 128.0 / 255.0 * 100.0
	if *ch.Duty != wantDuty {
		t.Fatalf("expected duty %v, got %v", wantDuty, *ch.Duty)
	}
	if ch.RPM == nil || *ch.RPM != 1200 {
		t.Fatalf("expected rpm 1200, got %v", ch.RPM)
	}
}

func TestInitializeDevicesHandlesIntermediateDeviceLayout(t *testing.T) {
	// Some distributions keep the sensor files one level down, under
	// hwmonN/device/, with only `name` at the top level.
	root := t.TempDir()
	hw := filepath.Join(root, "class", "hwmon", "hwmon0")
	writeFile(t, filepath.Join(hw, "name"), "nct6775\n")
	writeFile(t, filepath.Join(hw, "device", "temp1_input"), "38000\n")
	writeFile(t, filepath.Join(hw, "device", "pwm2"), "255\n")
	writeFile(t, filepath.Join(hw, "device", "uevent"), "DRIVER=nct6775\n")

	r := New(root)
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	devs := r.Devices()
	if len(devs) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devs))
	}
	if _, ok := devs[0].Info.Channels["pwm2"]; !ok {
		t.Fatal("expected pwm2 discovered under the device/ subdirectory")
	}

	if err := r.PreloadStatuses(ctx); err != nil {
		t.Fatal(err)
	}
	r.UpdateStatuses(ctx)
	st, ok := devs[0].CurrentStatus()
	if !ok {
		t.Fatal("expected a status")
	}
	if temp, ok := st.TempByName("temp1"); !ok || temp != 38.0 {
		t.Fatalf("expected temp1=38.0 read from device/, got %v ok=%v", temp, ok)
	}
}

func TestApplySettingSpeedFixedWritesPwmAndEnable(t *testing.T) {
	root := fakeSysRoot(t)
	r := New(root)
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	uid := r.Devices()[0].UID

	if err := r.ApplySettingSpeedFixed(ctx, uid, "pwm1", 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(root, "class", "hwmon", "hwmon0", "pwm1")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "127" // int(50/100*255)
	if string(got) != want {
		t.Fatalf("expected pwm1=%s, got %s", want, got)
	}
	enablePath := filepath.Join(root, "class", "hwmon", "hwmon0", "pwm1_enable")
	if _, err := os.Stat(enablePath); err != nil {
		t.Fatalf("expected pwm1_enable to be written: %v", err)
	}
}

func TestApplySettingSpeedFixedRejectsOutOfRange(t *testing.T) {
	r := New(fakeSysRoot(t))
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	uid := r.Devices()[0].UID
	if err := r.ApplySettingSpeedFixed(ctx, uid, "pwm1", 150); err == nil {
		t.Fatal("expected out-of-range duty to be rejected")
	}
}
