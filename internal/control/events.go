// v1
// internal/control/events.go
package control

import "github.com/Rlpzx/auto-riego/internal/zone"

// Origins of a valve change carried on control events.
const (
	OriginManual = "manual"
	OriginAuto   = "auto"
)

// Result is what an accepted ingest reports back to the device.
type Result struct {
	ValveAction string   `json:"valveAction"`
	Advisories  []string `json:"advisories,omitempty"`
}

// SensorEvent is published on bus.TopicSensorUpdate after every accepted
// reading. State reflects the store after the reading and any synchronous
// valve change were applied.
type SensorEvent struct {
	ZoneID   string        `json:"zoneId"`
	Reading  zone.Reading  `json:"reading"`
	Decision zone.Decision `json:"decision"`
	State    zone.State    `json:"state"`
}

// ControlEvent is published on bus.TopicControlUpdate for valve changes that
// happen outside the reading pipeline: operator commands and the deferred
// automatic close.
type ControlEvent struct {
	ZoneID   string     `json:"zoneId"`
	Action   string     `json:"action"`
	Origin   string     `json:"origin"`
	Operator string     `json:"operator,omitempty"`
	State    zone.State `json:"state"`
}

// Principal is the authenticated identity behind a manual control call. The
// auth layer produces it; the core only cares that it is non-zero.
type Principal struct {
	ID   string
	Name string
}

// Valid reports whether the principal carries an identity.
func (p Principal) Valid() bool { return p.ID != "" || p.Name != "" }
