// v1
// internal/control/gateway.go
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/metrics"
	"github.com/Rlpzx/auto-riego/internal/store"
	"github.com/Rlpzx/auto-riego/internal/zone"
)

// Gateway applies operator valve commands. No policy evaluation happens on
// this path: the command is absolute and sets the override flag, which blocks
// automatic re-close until a critical reading opens the valve again.
type Gateway struct {
	zones map[string]zone.Config
	store store.Store
	bus   bus.Publisher
	seq   *Sequencer
	log   *slog.Logger
}

func NewGateway(zones map[string]zone.Config, st store.Store, pub bus.Publisher, seq *Sequencer, log *slog.Logger) *Gateway {
	return &Gateway{
		zones: zones,
		store: st,
		bus:   pub,
		seq:   seq,
		log:   log.With(slog.String("component", "gateway")),
	}
}

// Apply sets the valve for a zone on behalf of an operator and returns the
// resulting state. The command runs on the zone worker, in order with any
// readings in flight for the same zone.
func (g *Gateway) Apply(ctx context.Context, zoneID, action string, p Principal) (zone.State, error) {
	if _, ok := g.zones[zoneID]; !ok {
		return zone.State{}, fmt.Errorf("%w: unknown zone %q", ErrInvalidRequest, zoneID)
	}
	if action != zone.ValveOn && action != zone.ValveOff {
		return zone.State{}, fmt.Errorf("%w: action %q", ErrInvalidRequest, action)
	}
	if !p.Valid() {
		return zone.State{}, ErrUnauthorized
	}

	var st zone.State
	err := g.seq.Do(ctx, zoneID, func() error {
		opCtx := context.Background()
		if err := g.store.SetValve(opCtx, zoneID, action, "", true); err != nil {
			return fmt.Errorf("%w: set valve %s: %v", ErrStorage, zoneID, err)
		}
		cur, err := g.store.Get(opCtx, zoneID)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrStorage, zoneID, err)
		}
		st = cur
		metrics.IncValveTransition(zoneID, action, "manual")
		g.log.Info("manual_valve_set",
			slog.String("zone", zoneID),
			slog.String("action", action),
			slog.String("operator", p.Name))
		g.bus.Publish(bus.TopicControlUpdate, ControlEvent{
			ZoneID:   zoneID,
			Action:   action,
			Origin:   OriginManual,
			Operator: p.Name,
			State:    cur,
		})
		return nil
	})
	if err != nil {
		return zone.State{}, err
	}
	return st, nil
}
