// v2
// internal/zone/policy.go
package zone

// hysteresisMargin is the moisture gap above the threshold inside which an
// open valve is left alone. Without it the valve would flap on readings that
// oscillate around the threshold. Fixed for all zones.
const hysteresisMargin = 50.0

// Advisory texts attached to decisions. The dashboard shows these verbatim.
const (
	AdvisorySoilLow      = "soil moisture low — opening valve automatically"
	AdvisorySoilAdequate = "soil moisture adequate"
	AdvisoryTempHigh     = "high temperature — check ventilation/shade"
	AdvisoryTempLow      = "low temperature — protect plants if needed"
)

// Decision is the outcome of evaluating one reading against a zone's config.
type Decision struct {
	Action     string   `json:"valveAction"`
	Reason     string   `json:"reason,omitempty"`
	Advisories []string `json:"advisories,omitempty"`
}

// Evaluate derives the valve action and advisories for a reading. It does no
// I/O and never fails.
//
// Moisture at or below the threshold always opens the valve, regardless of
// the current valve position or a manual override. Above the threshold the
// valve is auto-closed only when it is open, not manually overridden, and the
// moisture has climbed past threshold+margin. Temperature bounds only add
// advisories and never touch the valve. Missing numeric fields skip their
// branch entirely.
func Evaluate(cfg Config, r Reading, cur State) Decision {
	d := Decision{Action: ValveNone}
	if r.SoilMoisture != nil {
		m := *r.SoilMoisture
		if m <= cfg.SoilThreshold {
			d.Action = ValveOn
			d.Reason = ReasonAutoSoilLow
			d.Advisories = append(d.Advisories, AdvisorySoilLow)
		} else {
			d.Advisories = append(d.Advisories, AdvisorySoilAdequate)
			if cur.Valve == ValveOn && !cur.ManualOverride && m > cfg.SoilThreshold+hysteresisMargin {
				d.Action = ValveOff
				d.Reason = ReasonSoilOK
			}
		}
	}
	if r.Temperature != nil {
		t := *r.Temperature
		if t >= cfg.TempHigh {
			d.Advisories = append(d.Advisories, AdvisoryTempHigh)
		}
		if t <= cfg.TempLow {
			d.Advisories = append(d.Advisories, AdvisoryTempLow)
		}
	}
	return d
}
