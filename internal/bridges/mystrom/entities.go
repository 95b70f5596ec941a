package mystrom

import (
	"strings"
	"time"
	"unicode"
)

// Domain is the integration identifier used in device identifiers and
// MQTT topics.
const Domain = "mystrom"

// Manufacturer is reported in DeviceInfo for every device.
const Manufacturer = "MyStrom"

// energyKWhThreshold is the raw Wh value above which the energy sensor
// reports kWh. Values at or below it are passed through unchanged.
const energyKWhThreshold = 1000

// Platform is the entity platform.
type Platform string

const (
	PlatformSwitch Platform = "switch"
	PlatformSensor Platform = "sensor"
)

// SensorKind identifies one sensor entity of a device.
type SensorKind string

const (
	SensorPower       SensorKind = "power"
	SensorTemperature SensorKind = "temperature"
	SensorEnergy      SensorKind = "energy"
)

// Sensor state classes.
const (
	StateClassMeasurement     = "measurement"
	StateClassTotalIncreasing = "total_increasing"
)

type sensorDescription struct {
	kind        SensorKind
	name        string
	unit        string
	deviceClass string
	stateClass  string
}

var sensorDescriptions = map[SensorKind]sensorDescription{
	SensorPower: {
		kind: SensorPower, name: "Power", unit: "W",
		deviceClass: "power", stateClass: StateClassMeasurement,
	},
	SensorTemperature: {
		kind: SensorTemperature, name: "Temperature", unit: "°C",
		deviceClass: "temperature", stateClass: StateClassMeasurement,
	},
	SensorEnergy: {
		kind: SensorEnergy, name: "Energy", unit: "kWh",
		deviceClass: "energy", stateClass: StateClassTotalIncreasing,
	},
}

// DeviceInfo describes the physical device an entry's entities belong to.
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model,omitempty"`
}

func newDeviceInfo(uniqueID, name string, t DeviceType) DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{Domain, uniqueID}},
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        t.Model(),
	}
}

// EntityState is the rendered state of one entity.
//
// State is nil when the value is unknown (no status yet, or the metric is
// not reported by the device).
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	Name        string         `json:"name"`
	State       any            `json:"state"`
	Available   bool           `json:"available"`
	Stale       bool           `json:"stale"`
	Attributes  map[string]any `json:"attributes"`
	Unit        string         `json:"unit,omitempty"`
	DeviceClass string         `json:"device_class,omitempty"`
	StateClass  string         `json:"state_class,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// StateListener receives every rendered entity state.
type StateListener interface {
	OnEntityState(EntityState)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(EntityState)

// OnEntityState calls f(s).
func (f StateListenerFunc) OnEntityState(s EntityState) { f(s) }

// Entity is a presentation-only view over one coordinator. Entities never
// poll; they render on every coordinator notification.
type Entity interface {
	Subscriber
	EntityID() string
	UniqueID() string
	Platform() Platform
	Name() string
	EntryID() string
	State() EntityState
}

// baseEntity carries the fields shared by every entity. entityID is
// assigned once during setup, before the entity is subscribed.
type baseEntity struct {
	entityID string
	uniqueID string
	name     string
	entryID  string
	host     string
	coord    *Coordinator
	emit     func(EntityState)
}

func (b *baseEntity) EntityID() string { return b.entityID }

func (b *baseEntity) UniqueID() string { return b.uniqueID }
func (b *baseEntity) Name() string     { return b.name }
func (b *baseEntity) EntryID() string  { return b.entryID }

func (b *baseEntity) render(snap Snapshot, state any, attrs map[string]any) EntityState {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return EntityState{
		EntityID:    b.EntityID(),
		Name:        b.name,
		State:       state,
		Available:   snap.Available(),
		Stale:       snap.Stale(),
		Attributes:  attrs,
		LastUpdated: snap.LastUpdate,
	}
}

// SwitchEntity exposes the relay. Its unique id is the entry's unique id.
type SwitchEntity struct {
	baseEntity
	deviceType DeviceType
}

func newSwitchEntity(base baseEntity, t DeviceType) *SwitchEntity {
	return &SwitchEntity{baseEntity: base, deviceType: t}
}

// Platform returns PlatformSwitch.
func (s *SwitchEntity) Platform() Platform { return PlatformSwitch }

// IsOn is false until a status has been fetched.
func (s *SwitchEntity) IsOn() bool {
	return s.coord.CurrentStatus().IsOn()
}

// Attributes returns host, device type, MAC and power. Empty until a status
// has been fetched. Power is omitted when zero or not reported.
func (s *SwitchEntity) Attributes() map[string]any {
	return s.attributes(s.coord.CurrentStatus())
}

func (s *SwitchEntity) attributes(status *Status) map[string]any {
	attrs := map[string]any{}
	if status == nil {
		return attrs
	}

	attrs["host"] = s.host
	t := s.deviceType
	if reported, ok := status.DeviceType(); ok {
		t = reported
	}
	if t == "" {
		t = DeviceTypeSwitch
	}
	attrs["device_type"] = string(t)
	if mac, ok := status.MAC(); ok {
		attrs["mac"] = mac
	}
	if p, ok := status.Power(); ok && p != 0 {
		attrs["power"] = p
	}
	return attrs
}

// State renders the switch as "on" or "off".
func (s *SwitchEntity) State() EntityState {
	return s.renderSwitch(s.coord.Snapshot())
}

func (s *SwitchEntity) renderSwitch(snap Snapshot) EntityState {
	var state any
	if snap.Status != nil {
		state = "off"
		if snap.Status.IsOn() {
			state = "on"
		}
	}
	return s.render(snap, state, s.attributes(snap.Status))
}

// OnStatus re-renders and emits the switch state.
func (s *SwitchEntity) OnStatus(snap Snapshot) {
	if s.emit != nil {
		s.emit(s.renderSwitch(snap))
	}
}

// SensorEntity exposes one metric. Its unique id is "<base>_<kind>".
type SensorEntity struct {
	baseEntity
	desc sensorDescription
}

func newSensorEntity(base baseEntity, kind SensorKind) *SensorEntity {
	desc := sensorDescriptions[kind]
	base.uniqueID = base.uniqueID + "_" + string(kind)
	base.name = strings.TrimSpace(base.name + " " + desc.name)
	return &SensorEntity{baseEntity: base, desc: desc}
}

// Platform returns PlatformSensor.
func (s *SensorEntity) Platform() Platform { return PlatformSensor }

// Kind returns which metric the sensor reports.
func (s *SensorEntity) Kind() SensorKind { return s.desc.kind }

// Unit returns the unit of measurement.
func (s *SensorEntity) Unit() string { return s.desc.unit }

// Value returns the current display value, or false when unknown.
func (s *SensorEntity) Value() (float64, bool) {
	return sensorValue(s.desc.kind, s.coord.CurrentStatus())
}

// State renders the sensor value.
func (s *SensorEntity) State() EntityState {
	return s.renderSensor(s.coord.Snapshot())
}

func (s *SensorEntity) renderSensor(snap Snapshot) EntityState {
	var state any
	if v, ok := sensorValue(s.desc.kind, snap.Status); ok {
		state = v
	}

	attrs := map[string]any{}
	if s.desc.kind == SensorPower && snap.Status != nil {
		if ws, ok := snap.Status.WiFiSignal(); ok {
			attrs["wifi_signal"] = ws
		}
	}

	es := s.render(snap, state, attrs)
	es.Unit = s.desc.unit
	es.DeviceClass = s.desc.deviceClass
	es.StateClass = s.desc.stateClass
	return es
}

// OnStatus re-renders and emits the sensor state.
func (s *SensorEntity) OnStatus(snap Snapshot) {
	if s.emit != nil {
		s.emit(s.renderSensor(snap))
	}
}

func sensorValue(kind SensorKind, status *Status) (float64, bool) {
	if status == nil {
		return 0, false
	}
	switch kind {
	case SensorPower:
		return status.Power()
	case SensorTemperature:
		return status.Temperature()
	case SensorEnergy:
		wh, ok := status.EnergyWh()
		if !ok {
			return 0, false
		}
		return EnergyDisplay(wh), true
	default:
		return 0, false
	}
}

// EnergyDisplay converts the raw energy counter for display: values above
// 1000 are divided by 1000, anything else is returned unchanged.
func EnergyDisplay(wh float64) float64 {
	if wh > energyKWhThreshold {
		return wh / 1000
	}
	return wh
}

// Slugify lowercases s and replaces every run of non-alphanumeric
// characters with a single underscore.
//
//	Slugify("Kitchen Plug #2") // "kitchen_plug_2"
func Slugify(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
