package mystrom

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Raw report keys.
const (
	keyPower       = "power"
	keyRelay       = "relay"
	keyTemperature = "temperature"
	keyEnergy      = "W"
	keyWiFiSignal  = "ws"
	keyMAC         = "mac"
	keyType        = "type"
)

// DeviceType is the lowercase device family tag.
type DeviceType string

const (
	DeviceTypeSwitch DeviceType = "switch"
	DeviceTypeZero   DeviceType = "zero"
	DeviceTypeBulb   DeviceType = "bulb"
	DeviceTypeButton DeviceType = "button"
)

// ParseDeviceType maps a report type ("Switch", "Zero", ...) or a config
// tag ("switch", ...) to a DeviceType. Unknown strings are not an error;
// ok is false and the type is treated as not reported.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(s))); t {
	case DeviceTypeSwitch, DeviceTypeZero, DeviceTypeBulb, DeviceTypeButton:
		return t, true
	default:
		return "", false
	}
}

// Model returns the title-cased type used as the device model ("Switch").
func (t DeviceType) Model() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

type opt[T any] struct {
	v  T
	ok bool
}

func some[T any](v T) opt[T] { return opt[T]{v: v, ok: true} }

// Status is an immutable snapshot of one device report. Each metric is
// either reported or absent; absent is never represented as zero.
type Status struct {
	power       opt[float64]
	relay       opt[bool]
	temperature opt[float64]
	energyWh    opt[float64]
	wifiSignal  opt[int]
	mac         opt[string]
	deviceType  opt[DeviceType]
}

// Normalize converts a raw device response into a Status. A field that is
// missing or fails coercion is absent; it never fails the whole report.
func Normalize(raw map[string]any) *Status {
	s := &Status{}
	if raw == nil {
		return s
	}

	if v, ok := toFloat(raw[keyPower]); ok {
		s.power = some(v)
	}
	if v, ok := toBool(raw[keyRelay]); ok {
		s.relay = some(v)
	}
	if v, ok := toFloat(raw[keyTemperature]); ok {
		s.temperature = some(v)
	}
	if v, ok := toFloat(raw[keyEnergy]); ok {
		s.energyWh = some(v)
	}
	if v, ok := toFloat(raw[keyWiFiSignal]); ok && v >= math.MinInt32 && v <= math.MaxInt32 {
		s.wifiSignal = some(int(math.Round(v)))
	}
	if v, ok := raw[keyMAC].(string); ok && strings.TrimSpace(v) != "" {
		s.mac = some(strings.TrimSpace(v))
	}
	if v, ok := raw[keyType].(string); ok {
		if t, ok := ParseDeviceType(v); ok {
			s.deviceType = some(t)
		}
	}

	return s
}

// Power returns the instantaneous power in watts.
func (s *Status) Power() (float64, bool) { return s.power.v, s.power.ok }

// Relay returns the explicit relay flag.
func (s *Status) Relay() (bool, bool) { return s.relay.v, s.relay.ok }

// Temperature returns the device temperature in °C.
func (s *Status) Temperature() (float64, bool) { return s.temperature.v, s.temperature.ok }

// EnergyWh returns the raw energy counter in watt-hours.
func (s *Status) EnergyWh() (float64, bool) { return s.energyWh.v, s.energyWh.ok }

// WiFiSignal returns the WiFi signal strength in dBm.
func (s *Status) WiFiSignal() (int, bool) { return s.wifiSignal.v, s.wifiSignal.ok }

// MAC returns the device MAC address as reported.
func (s *Status) MAC() (string, bool) { return s.mac.v, s.mac.ok }

// DeviceType returns the device family.
func (s *Status) DeviceType() (DeviceType, bool) { return s.deviceType.v, s.deviceType.ok }

// IsOn reports the relay state. An explicit relay flag wins; without one,
// the device is on when it draws power. Zero-type plugs omit the relay
// field on some firmware.
func (s *Status) IsOn() bool {
	if s == nil {
		return false
	}
	if s.relay.ok {
		return s.relay.v
	}
	return s.power.ok && s.power.v > 0
}

// HasMetrics reports whether the status carries at least one of power,
// relay, temperature, mac or type.
func (s *Status) HasMetrics() bool {
	return s != nil && (s.power.ok || s.relay.ok || s.temperature.ok || s.mac.ok || s.deviceType.ok)
}

// MarshalJSON renders only the reported fields.
func (s *Status) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 7)
	if s.power.ok {
		out["power"] = s.power.v
	}
	if s.relay.ok {
		out["relay"] = s.relay.v
	}
	if s.temperature.ok {
		out["temperature"] = s.temperature.v
	}
	if s.energyWh.ok {
		out["energy_wh"] = s.energyWh.v
	}
	if s.wifiSignal.ok {
		out["wifi_signal"] = s.wifiSignal.v
	}
	if s.mac.ok {
		out["mac"] = s.mac.v
	}
	if s.deviceType.ok {
		out["device_type"] = s.deviceType.v
	}
	return json.Marshal(out)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		f, ok := toFloat(v)
		if !ok {
			return false, false
		}
		return f != 0, true
	}
}
