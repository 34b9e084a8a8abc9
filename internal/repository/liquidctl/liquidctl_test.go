package liquidctl

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeDoer struct {
	calls     []string
	responses map[string]string // method -> json body
	failFirst int               // number of handshake calls to fail before succeeding
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	s := string(body)
	f.calls = append(f.calls, s)

	var method string
	for _, m := range []string{"handshake", "enumerate", "initialize", "status", "fixed_speed", "speed_profile", "color", "screen", "quit"} {
		if strings.Contains(s, `"method":"`+m+`"`) {
			method = m
			break
		}
	}

	if method == "handshake" && f.failFirst > 0 {
		f.failFirst--
		return nil, io.ErrUnexpectedEOF
	}

	resp := f.responses[method]
	if resp == "" {
		resp = `{}`
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte(resp))),
	}, nil
}

func TestInitializeDevicesEnumeratesAndHandshakes(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"enumerate": `{"devices":[{"index":0,"name":"Kraken X63","description":"Kraken X63","serial":"ABC123","driver_family":"KrakenX3"}]}`,
	}}
	r := New("http://helper.local", doer)
	if err := r.InitializeDevices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	devs := r.Devices()
	if len(devs) != 1 || devs[0].Name != "Kraken X63" {
		t.Fatalf("expected 1 device named Kraken X63, got %+v", devs)
	}
}

func TestInitializeDevicesRetriesHandshake(t *testing.T) {
	doer := &fakeDoer{failFirst: 2, responses: map[string]string{
		"enumerate": `{"devices":[]}`,
	}}
	r := New("http://helper.local", doer)
	if err := r.InitializeDevices(context.Background()); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
}

func TestInitializeDevicesFailsAfterRetryBudgetExhausted(t *testing.T) {
	doer := &fakeDoer{failFirst: 99}
	r := New("http://helper.local", doer)
	if err := r.InitializeDevices(context.Background()); err == nil {
		t.Fatal("expected Init error after exhausting the handshake retry budget")
	}
}

func TestCollisionFreeUIDBySerialDescriptionIndex(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"enumerate": `{"devices":[
			{"index":0,"name":"Kraken","description":"Kraken","serial":"","driver_family":""},
			{"index":1,"name":"Kraken","description":"Kraken","serial":"","driver_family":""}
		]}`,
	}}
	r := New("http://helper.local", doer)
	if err := r.InitializeDevices(context.Background()); err != nil {
		t.Fatal(err)
	}
	devs := r.Devices()
	if len(devs) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devs))
	}
	if devs[0].UID == devs[1].UID {
		t.Fatal("expected distinct UIDs for devices disambiguated only by index")
	}
}

func TestApplySettingSpeedFixedUsesDiscreteModeForHydroPlatinum(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"enumerate": `{"devices":[{"index":0,"name":"H150i","description":"H150i","serial":"SER1","driver_family":"HydroPlatinum"}]}`,
	}}
	r := New("http://helper.local", doer)
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	uid := r.Devices()[0].UID
	doer.calls = nil
	if err := r.ApplySettingSpeedFixed(ctx, uid, "pump", 90); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, c := range doer.calls {
		if strings.Contains(c, `"method":"initialize"`) && strings.Contains(c, "extreme") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a re-initialize call carrying the extreme pump mode, got %v", doer.calls)
	}
}

func TestSetColorAndScreenIssueRPCs(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"enumerate": `{"devices":[{"index":0,"name":"Kraken Z73","description":"Kraken Z73","serial":"Z1","driver_family":"KrakenZ3"}]}`,
	}}
	r := New("http://helper.local", doer)
	ctx := context.Background()
	if err := r.InitializeDevices(ctx); err != nil {
		t.Fatal(err)
	}
	uid := r.Devices()[0].UID

	doer.calls = nil
	if err := r.SetColor(ctx, uid, "ring", "fading", [][]int{{255, 0, 0}, {0, 0, 255}}, "normal", "forward"); err != nil {
		t.Fatalf("SetColor: %v", err)
	}
	if err := r.SetScreen(ctx, uid, "lcd", ScreenSettings{Mode: "liquid", Brightness: 80}); err != nil {
		t.Fatalf("SetScreen: %v", err)
	}

	var sawColor, sawScreen bool
	for _, c := range doer.calls {
		if strings.Contains(c, `"method":"color"`) && strings.Contains(c, "[255,0,0]") {
			sawColor = true
		}
		if strings.Contains(c, `"method":"screen"`) && strings.Contains(c, `"liquid"`) {
			sawScreen = true
		}
	}
	if !sawColor || !sawScreen {
		t.Fatalf("expected color and screen RPCs, got %v", doer.calls)
	}
}

func TestParseTrailingTempIndex(t *testing.T) {
	idx, ok := parseTrailingTempIndex("Temp Sensor 2")
	if !ok || idx != 2 {
		t.Fatalf("expected index 2, got %d (ok=%v)", idx, ok)
	}
	if _, ok := parseTrailingTempIndex("Liquid Temp"); ok {
		t.Fatal("expected no trailing digits to report not-ok")
	}
}
