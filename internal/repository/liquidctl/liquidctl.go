// Package liquidctl proxies to an out-of-process helper that speaks
// USB/HID to AIO liquid coolers, over a JSON-RPC-over-HTTP contract. It
// implements repository.Repository; the helper process itself, and its
// vendor frame decoding, are out of the core's scope.
package liquidctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// callTimeout is the per-call timeout for the liquidctl helper.
const callTimeout = 800 * time.Millisecond

// handshakeRetryBudget bounds the number of connection attempts at startup.
const handshakeRetryBudget = 5

// discretePumpDriverFamilies do not accept a continuous pump duty; the
// adapter maps a requested duty onto one of these discrete mode strings
// instead.
var discretePumpDriverFamilies = map[string]bool{
	"HydroPlatinum": true,
	"HydroPro":      true,
}

// krakenZ3Family must not have its LCD reset to the "liquid" mode on
// shutdown, a documented hardware quirk.
const krakenZ3Family = "KrakenZ3"

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// HTTPDoer abstracts *http.Client for test substitution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type helperDevice struct {
	index        int
	uid          string
	name         string
	description  string
	serial       string
	driverFamily string
}

// Repository implements repository.Repository against the liquidctl helper.
type Repository struct {
	baseURL string
	client  HTTPDoer

	mu      sync.Mutex
	devices map[string]*model.Device
	helper  []helperDevice
	scratch map[string]model.Status
}

func New(baseURL string, client HTTPDoer) *Repository {
	if client == nil {
		client = &http.Client{Timeout: callTimeout}
	}
	return &Repository{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		devices: make(map[string]*model.Device),
	}
}

func (r *Repository) Name() string { return "liquidctl" }

// InitializeDevices performs the handshake (bounded retries), then
// enumerates devices and computes a collision-free identifier per device:
// serial when globally unique; otherwise serial+description; otherwise
// description+device index.
func (r *Repository) InitializeDevices(ctx context.Context) error {
	var lastErr error
	ok := false
	for attempt := 0; attempt < handshakeRetryBudget; attempt++ {
		if err := r.handshake(ctx); err != nil {
			lastErr = err
			continue
		}
		ok = true
		break
	}
	if !ok {
		return model.InitError("liquidctl.initialize_devices", "helper unreachable after retry budget", lastErr)
	}

	raw, err := r.call(ctx, "enumerate", nil)
	if err != nil {
		return model.InitError("liquidctl.initialize_devices", "enumerate failed", err)
	}

	type rawDevice struct {
		index        int
		name         string
		description  string
		serial       string
		driverFamily string
	}
	var list []rawDevice
	_, _ = jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, offset int, err error) {
		idx, _ := jsonparser.GetInt(value, "index")
		name, _ := jsonparser.GetString(value, "name")
		desc, _ := jsonparser.GetString(value, "description")
		serial, _ := jsonparser.GetString(value, "serial")
		driver, _ := jsonparser.GetString(value, "driver_family")
		list = append(list, rawDevice{index: int(idx), name: name, description: desc, serial: serial, driverFamily: driver})
	}, "devices")

	serialCount := map[string]int{}
	for _, d := range list {
		if d.serial != "" {
			serialCount[d.serial]++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.helper = nil
	for i, d := range list {
		typeIdx := i + 1
		var stableKey string
		switch {
		case d.serial != "" && serialCount[d.serial] == 1:
			stableKey = d.serial
		case d.serial != "":
			stableKey = d.serial + ":" + d.description
		default:
			stableKey = d.description + ":" + strconv.Itoa(d.index)
		}
		uid := model.NewDeviceUID(model.FamilyLiquidctl, stableKey, typeIdx)
		r.helper = append(r.helper, helperDevice{index: d.index, uid: uid, name: d.name, description: d.description, serial: d.serial, driverFamily: d.driverFamily})

		info := model.DeviceInfo{
			Channels: map[string]model.ChannelInfo{
				"pump": {Speed: model.SpeedOptions{MinDuty: 0, MaxDuty: 100, FixedEnabled: true, ManualEnabled: true}},
				"fan":  {Speed: model.SpeedOptions{MinDuty: 0, MaxDuty: 100, FixedEnabled: true, ManualEnabled: true}},
			},
			Temps: []string{"Liquid Temp"},
		}
		dev := model.NewDevice(uid, d.name, model.FamilyLiquidctl, typeIdx, info)
		dev.LcInfo = &model.LcInfo{DriverFamily: d.driverFamily}
		dev.InitializeHistory(model.Status{}, 16)
		r.devices[uid] = dev

		_, _ = r.call(ctx, "initialize", map[string]any{"index": d.index})
	}
	return nil
}

func (r *Repository) handshake(ctx context.Context) error {
	_, err := r.call(ctx, "handshake", nil)
	return err
}

func (r *Repository) Devices() []*model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// PreloadStatuses requests status for every device. A per-call timeout
// failure leaves that device absent from the scratch map; UpdateStatuses
// then retains its previous status.
func (r *Repository) PreloadStatuses(ctx context.Context) error {
	r.mu.Lock()
	helper := append([]helperDevice(nil), r.helper...)
	r.mu.Unlock()

	scratch := make(map[string]model.Status, len(helper))
	for _, h := range helper {
		raw, err := r.call(ctx, "status", map[string]any{"index": h.index})
		if err != nil {
			continue
		}
		scratch[h.uid] = parseStatus(raw)
	}

	r.mu.Lock()
	r.scratch = scratch
	r.mu.Unlock()
	return nil
}

func parseStatus(raw []byte) model.Status {
	st := model.Status{Timestamp: time.Now()}
	if v, err := jsonparser.GetFloat(raw, "liquid_temp"); err == nil {
		st.Temps = append(st.Temps, model.TempStatus{Name: "Liquid Temp", Temp: v})
	}
	if v, err := jsonparser.GetFloat(raw, "pump_duty"); err == nil {
		duty := v
		st.Channels = append(st.Channels, model.ChannelStatus{Name: "pump", Duty: &duty})
	}
	if v, err := jsonparser.GetInt(raw, "pump_rpm"); err == nil {
		rpm := int(v)
		st.Channels = append(st.Channels, model.ChannelStatus{Name: "pump", RPM: &rpm})
	}
	if v, err := jsonparser.GetFloat(raw, "fan_duty"); err == nil {
		duty := v
		st.Channels = append(st.Channels, model.ChannelStatus{Name: "fan", Duty: &duty})
	}
	return st
}

func (r *Repository) UpdateStatuses(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, d := range r.devices {
		if st, ok := r.scratch[uid]; ok {
			d.PushStatus(st)
		}
	}
}

// ApplySettingSpeedFixed maps a continuous duty onto a discrete pump-mode
// string for driver families that require it, otherwise issues a plain
// fixed_speed RPC.
func (r *Repository) ApplySettingSpeedFixed(ctx context.Context, deviceUID, channel string, duty int) error {
	if duty < 0 || duty > 100 {
		return model.UserError("liquidctl.apply_setting_speed_fixed", "duty out of range")
	}
	r.mu.Lock()
	var h *helperDevice
	for i := range r.helper {
		if r.helper[i].uid == deviceUID {
			h = &r.helper[i]
			break
		}
	}
	r.mu.Unlock()
	if h == nil {
		return model.Missing("liquidctl.apply_setting_speed_fixed", "unknown device uid "+deviceUID)
	}

	if channel == "pump" && discretePumpDriverFamilies[h.driverFamily] {
		mode := pumpDutyToMode(duty)
		if _, err := r.call(ctx, "initialize", map[string]any{"index": h.index, "pump_mode": mode}); err != nil {
			return model.TransientIO("liquidctl.apply_setting_speed_fixed", err)
		}
		return nil
	}

	_, err := r.call(ctx, "fixed_speed", map[string]any{"index": h.index, "channel": channel, "duty": duty})
	if err != nil {
		return model.TransientIO("liquidctl.apply_setting_speed_fixed", err)
	}
	return nil
}

// pumpDutyToMode maps a continuous duty percentage to the discrete
// quiet/balanced/extreme pump-mode vocabulary HydroPlatinum/HydroPro
// accept in place of a numeric duty.
func pumpDutyToMode(duty int) string {
	switch {
	case duty < 40:
		return "quiet"
	case duty < 75:
		return "balanced"
	default:
		return "extreme"
	}
}

// SetSpeedProfile sends a device-internal curve plus the optional numeric
// temp-sensor index parsed from the trailing digits of tempName.
func (r *Repository) SetSpeedProfile(ctx context.Context, deviceUID, channel string, points []model.SpeedProfilePoint, tempName string) error {
	r.mu.Lock()
	var h *helperDevice
	for i := range r.helper {
		if r.helper[i].uid == deviceUID {
			h = &r.helper[i]
			break
		}
	}
	r.mu.Unlock()
	if h == nil {
		return model.Missing("liquidctl.set_speed_profile", "unknown device uid "+deviceUID)
	}
	params := map[string]any{"index": h.index, "channel": channel, "profile": points}
	if idx, ok := parseTrailingTempIndex(tempName); ok {
		params["temp_sensor_index"] = idx
	}
	_, err := r.call(ctx, "speed_profile", params)
	if err != nil {
		return model.TransientIO("liquidctl.set_speed_profile", err)
	}
	return nil
}

// SetColor issues a color RPC: lighting mode, colors list, and the optional
// speed string and direction some modes accept.
func (r *Repository) SetColor(ctx context.Context, deviceUID, channel, mode string, colors [][]int, speed, direction string) error {
	h := r.helperByUID(deviceUID)
	if h == nil {
		return model.Missing("liquidctl.set_color", "unknown device uid "+deviceUID)
	}
	params := map[string]any{"index": h.index, "channel": channel, "mode": mode, "colors": colors}
	if speed != "" {
		params["speed"] = speed
	}
	if direction != "" {
		params["direction"] = direction
	}
	if _, err := r.call(ctx, "color", params); err != nil {
		return model.TransientIO("liquidctl.set_color", err)
	}
	return nil
}

// ScreenSettings carries the knobs a screen RPC may set; zero values are
// omitted from the call.
type ScreenSettings struct {
	Brightness  int
	Orientation int
	Mode        string
	ImagePath   string
}

// SetScreen issues a screen RPC for LCD-equipped devices.
func (r *Repository) SetScreen(ctx context.Context, deviceUID, channel string, s ScreenSettings) error {
	h := r.helperByUID(deviceUID)
	if h == nil {
		return model.Missing("liquidctl.set_screen", "unknown device uid "+deviceUID)
	}
	params := map[string]any{"index": h.index, "channel": channel}
	if s.Mode != "" {
		params["mode"] = s.Mode
	}
	if s.Brightness > 0 {
		params["brightness"] = s.Brightness
	}
	if s.Orientation > 0 {
		params["orientation"] = s.Orientation
	}
	if s.ImagePath != "" {
		params["image_path"] = s.ImagePath
	}
	if _, err := r.call(ctx, "screen", params); err != nil {
		return model.TransientIO("liquidctl.set_screen", err)
	}
	return nil
}

func (r *Repository) helperByUID(deviceUID string) *helperDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.helper {
		if r.helper[i].uid == deviceUID {
			return &r.helper[i]
		}
	}
	return nil
}

// PreloadDeadlineDefault bounds a helper status sweep at the per-call
// timeout on every tick, first or not.
func (r *Repository) PreloadDeadlineDefault() (first, subsequent int64) {
	ms := callTimeout.Milliseconds()
	return ms, ms
}

func parseTrailingTempIndex(tempName string) (int, bool) {
	m := trailingDigits.FindStringSubmatch(tempName)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reset restores automatic behavior on every device by re-issuing a bare
// initialize. LCD state is left alone here; see Shutdown for the KrakenZ3
// quirk.
func (r *Repository) Reset(ctx context.Context) error {
	r.mu.Lock()
	helper := append([]helperDevice(nil), r.helper...)
	r.mu.Unlock()
	for _, h := range helper {
		_, _ = r.call(ctx, "initialize", map[string]any{"index": h.index})
	}
	return nil
}

func (r *Repository) Reinitialize(ctx context.Context) error {
	r.mu.Lock()
	r.devices = make(map[string]*model.Device)
	r.helper = nil
	r.mu.Unlock()
	return r.InitializeDevices(ctx)
}

// Shutdown tears down the helper connection. It sends no LCD reset for any
// device, so KrakenZ3 LCDs are left in their current ("liquid") mode, as
// that hardware quirk needs.
func (r *Repository) Shutdown(ctx context.Context) error {
	_, err := r.call(ctx, "quit", nil)
	return err
}

func (r *Repository) call(ctx context.Context, method string, params map[string]any) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	body, err := encodeJSON(method, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, r.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("liquidctl helper returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// encodeJSON hand-builds the minimal {"method":...,"params":{...}} envelope
// so the adapter's only JSON dependency is the parsing side (jsonparser);
// no struct marshaling is needed for outbound calls.
func encodeJSON(method string, params map[string]any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`{"method":"`)
	b.WriteString(method)
	b.WriteString(`"`)
	if params != nil {
		b.WriteString(`,"params":{`)
		first := true
		for k, v := range params {
			if !first {
				b.WriteString(",")
			}
			first = false
			b.WriteString(strconv.Quote(k))
			b.WriteString(":")
			switch val := v.(type) {
			case string:
				b.WriteString(strconv.Quote(val))
			case int:
				b.WriteString(strconv.Itoa(val))
			case [][]int:
				b.WriteString("[")
				for i, rgb := range val {
					if i > 0 {
						b.WriteString(",")
					}
					b.WriteString("[")
					for j, c := range rgb {
						if j > 0 {
							b.WriteString(",")
						}
						b.WriteString(strconv.Itoa(c))
					}
					b.WriteString("]")
				}
				b.WriteString("]")
			case []model.SpeedProfilePoint:
				b.WriteString("[")
				for i, p := range val {
					if i > 0 {
						b.WriteString(",")
					}
					b.WriteString(fmt.Sprintf(`{"temp":%v,"duty":%d}`, p.Temp, p.Duty))
				}
				b.WriteString("]")
			default:
				b.WriteString(fmt.Sprintf("%v", val))
			}
		}
		b.WriteString(`}`)
	}
	b.WriteString(`}`)
	return b.Bytes(), nil
}
