// v1
// internal/zone/zone.go
package zone

// Valve positions and the pseudo-action used when a reading changes nothing.
const (
	ValveOn   = "on"
	ValveOff  = "off"
	ValveNone = "none"
)

// Causes recorded on automatic valve changes. Manual changes carry no reason.
const (
	ReasonAutoSoilLow = "auto_soil_low"
	ReasonSoilOK      = "soil_ok"
)

// Config holds the static per-zone thresholds. The zone table is loaded once
// at startup and never changes while the process runs.
type Config struct {
	SoilThreshold float64 `json:"soilThreshold"`
	TempHigh      float64 `json:"tempHigh"`
	TempLow       float64 `json:"tempLow"`
}

// Reading is one telemetry sample from a zone's device. Numeric fields are
// pointers because devices report partial samples; a nil field fails every
// threshold comparison instead of defaulting to zero.
type Reading struct {
	ZoneID          string   `json:"zoneId,omitempty"`
	SoilMoisture    *float64 `json:"soilMoisture,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	AmbientHumidity *float64 `json:"ambientHumidity,omitempty"`
	LightLevel      *float64 `json:"lightLevel,omitempty"`
	DeviceID        string   `json:"deviceId,omitempty"`
	// Timestamp is stamped by the coordinator at ingest; device clocks are
	// not trusted.
	Timestamp string `json:"timestamp,omitempty"`
}

// State is the durable per-zone record: the last merged telemetry plus the
// valve control fields. Control fields change only through SetValve, never
// through a telemetry merge.
type State struct {
	SoilMoisture    *float64 `json:"soilMoisture,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	AmbientHumidity *float64 `json:"ambientHumidity,omitempty"`
	LightLevel      *float64 `json:"lightLevel,omitempty"`
	DeviceID        string   `json:"deviceId,omitempty"`
	Timestamp       string   `json:"timestamp,omitempty"`
	Valve           string   `json:"valve"`
	ManualOverride  bool     `json:"manualOverride"`
	Reason          string   `json:"reason,omitempty"`
	LastUpdated     string   `json:"lastUpdated,omitempty"`
}

// DefaultState is what a zone looks like before its first reading arrives.
func DefaultState() State {
	return State{Valve: ValveOff}
}

// Float is a convenience for building pointer-valued reading fields.
func Float(v float64) *float64 { return &v }
