// v2
// internal/control/coordinator.go
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/metrics"
	"github.com/Rlpzx/auto-riego/internal/store"
	"github.com/Rlpzx/auto-riego/internal/zone"
)

// Coordinator runs the ingest pipeline: persist telemetry, evaluate the
// irrigation policy, actuate the valve, publish the outcome. Every step for a
// zone happens on that zone's worker, so concurrent readings and manual
// commands against one zone apply in arrival order.
type Coordinator struct {
	zones map[string]zone.Config
	store store.Store
	bus   bus.Publisher
	seq   *Sequencer
	log   *slog.Logger
}

func NewCoordinator(zones map[string]zone.Config, st store.Store, pub bus.Publisher, seq *Sequencer, log *slog.Logger) *Coordinator {
	return &Coordinator{
		zones: zones,
		store: st,
		bus:   pub,
		seq:   seq,
		log:   log.With(slog.String("component", "coordinator")),
	}
}

// Ingest merges one device reading into the zone state and applies the policy
// decision. The timestamp is stamped here; device clocks are not trusted.
// Returns ErrUnknownZone before any state is touched, and ErrStorage when the
// telemetry merge or the synchronous valve write fails.
func (c *Coordinator) Ingest(ctx context.Context, zoneID string, r zone.Reading) (Result, error) {
	cfg, ok := c.zones[zoneID]
	if !ok {
		metrics.IncReading("unknown", "rejected")
		c.log.Warn("ingest_rejected", slog.String("zone", zoneID), slog.String("cause", "unknown_zone"))
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}
	r.ZoneID = zoneID
	r.Timestamp = time.Now().UTC().Format(time.RFC3339)

	start := time.Now()
	var res Result
	err := c.seq.Do(ctx, zoneID, func() error {
		var perr error
		res, perr = c.process(cfg, zoneID, r)
		return perr
	})
	metrics.ObserveIngest(time.Since(start))
	if err != nil {
		metrics.IncReading(zoneID, "error")
		return Result{}, err
	}
	metrics.IncReading(zoneID, "ok")
	return res, nil
}

// process runs on the zone worker with its own context: once accepted, an
// operation runs to completion even if the ingest caller has given up.
func (c *Coordinator) process(cfg zone.Config, zoneID string, r zone.Reading) (Result, error) {
	opCtx := context.Background()
	merged, err := c.store.Merge(opCtx, zoneID, telemetryFields(r))
	if err != nil {
		return Result{}, fmt.Errorf("%w: merge %s: %v", ErrStorage, zoneID, err)
	}
	observeTelemetry(zoneID, r)

	// Merge never touches control fields, so merged still carries the valve
	// and override values from before this reading.
	d := zone.Evaluate(cfg, r, merged)
	state := merged
	switch d.Action {
	case zone.ValveOn:
		// Opens even under manual override: a zone at its soil threshold is
		// watered no matter what the operator last asked for.
		if err := c.store.SetValve(opCtx, zoneID, zone.ValveOn, d.Reason, false); err != nil {
			return Result{}, fmt.Errorf("%w: set valve %s: %v", ErrStorage, zoneID, err)
		}
		metrics.IncValveTransition(zoneID, zone.ValveOn, "auto")
		c.log.Info("valve_opened", slog.String("zone", zoneID), slog.String("reason", d.Reason))
		state.Valve = zone.ValveOn
		state.ManualOverride = false
		state.Reason = d.Reason
	case zone.ValveOff:
		c.scheduleAutoClose(zoneID, d.Reason)
	}

	c.bus.Publish(bus.TopicSensorUpdate, SensorEvent{ZoneID: zoneID, Reading: r, Decision: d, State: state})
	return Result{ValveAction: d.Action, Advisories: d.Advisories}, nil
}

// scheduleAutoClose queues the deferred close behind whatever is already
// waiting on the zone. The task re-reads the state before writing, so a
// manual command that lands in between wins and the close is skipped. The
// whole path is best-effort: failures are logged and dropped, leaving the
// valve open until the next reading re-evaluates it.
func (c *Coordinator) scheduleAutoClose(zoneID, reason string) {
	queued := c.seq.Enqueue(zoneID, func() {
		opCtx := context.Background()
		cur, err := c.store.Get(opCtx, zoneID)
		if err != nil {
			c.log.Error("valve_autoclose_err", slog.String("zone", zoneID), slog.Any("err", err))
			return
		}
		if cur.Valve != zone.ValveOn || cur.ManualOverride {
			c.log.Info("valve_autoclose_skipped", slog.String("zone", zoneID),
				slog.String("valve", cur.Valve), slog.Bool("manualOverride", cur.ManualOverride))
			return
		}
		if err := c.store.SetValve(opCtx, zoneID, zone.ValveOff, reason, false); err != nil {
			c.log.Error("valve_autoclose_err", slog.String("zone", zoneID), slog.Any("err", err))
			return
		}
		metrics.IncValveTransition(zoneID, zone.ValveOff, "auto")
		c.log.Info("valve_closed", slog.String("zone", zoneID), slog.String("reason", reason))
		cur.Valve = zone.ValveOff
		cur.ManualOverride = false
		cur.Reason = reason
		cur.LastUpdated = time.Now().UTC().Format(time.RFC3339)
		c.bus.Publish(bus.TopicControlUpdate, ControlEvent{ZoneID: zoneID, Action: zone.ValveOff, Origin: OriginAuto, State: cur})
	})
	if !queued {
		c.log.Warn("valve_autoclose_dropped", slog.String("zone", zoneID))
	}
}

// telemetryFields builds the merge document from the fields the device
// actually reported. Absent fields stay absent so the merge preserves them.
func telemetryFields(r zone.Reading) map[string]any {
	f := map[string]any{"timestamp": r.Timestamp}
	if r.SoilMoisture != nil {
		f["soilMoisture"] = *r.SoilMoisture
	}
	if r.Temperature != nil {
		f["temperature"] = *r.Temperature
	}
	if r.AmbientHumidity != nil {
		f["ambientHumidity"] = *r.AmbientHumidity
	}
	if r.LightLevel != nil {
		f["lightLevel"] = *r.LightLevel
	}
	if r.DeviceID != "" {
		f["deviceId"] = r.DeviceID
	}
	return f
}

func observeTelemetry(zoneID string, r zone.Reading) {
	if r.SoilMoisture != nil {
		metrics.SetSoilMoisture(zoneID, *r.SoilMoisture)
	}
	if r.Temperature != nil {
		metrics.SetTemperature(zoneID, *r.Temperature)
	}
}
