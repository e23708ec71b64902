// v2
// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

// ErrControlField is returned when a telemetry merge tries to smuggle in a
// field that only SetValve may change.
var ErrControlField = errors.New("control field not allowed in merge")

// Store is the durable per-zone state store. Callers are responsible for
// ordering: the control layer serializes all mutations of one zone, so
// backends only need each single call to be atomic.
type Store interface {
	// Get returns the stored state, or the default state if the zone was
	// never written.
	Get(ctx context.Context, zoneID string) (zone.State, error)
	// Merge shallow-merges the given telemetry fields into the zone record.
	// Listed keys overwrite, unlisted keys are preserved, lastUpdated is
	// stamped. Returns the post-merge state.
	Merge(ctx context.Context, zoneID string, fields map[string]any) (zone.State, error)
	// SetValve updates only the valve control fields plus lastUpdated.
	// An empty reason clears the stored reason (manual changes carry none).
	SetValve(ctx context.Context, zoneID, valve, reason string, manualOverride bool) error
	// All returns a snapshot of every written zone, for dashboards.
	All(ctx context.Context) (map[string]zone.State, error)
	Close() error
}

// Pinger is implemented by backends with a meaningful liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// controlFields may only change through SetValve. lastUpdated is stamped by
// the store itself.
var controlFields = map[string]struct{}{
	"valve":          {},
	"manualOverride": {},
	"reason":         {},
	"lastUpdated":    {},
}

func rejectControlFields(fields map[string]any) error {
	for k := range fields {
		if _, bad := controlFields[k]; bad {
			return fmt.Errorf("%w: %s", ErrControlField, k)
		}
	}
	return nil
}

// valveFields builds the merge document for a SetValve call. An empty reason
// is kept as an explicit empty value so backends know to drop the key.
func valveFields(valve, reason string, manualOverride bool) map[string]any {
	return map[string]any{
		"valve":          valve,
		"manualOverride": manualOverride,
		"reason":         reason,
	}
}

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339) }

// Zone records are held as open documents so that merge preserves keys the
// typed State view does not know about. docToState projects a document onto
// the typed view.
func docToState(doc map[string]any) (zone.State, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return zone.State{}, fmt.Errorf("encode zone document: %w", err)
	}
	st := zone.DefaultState()
	if err := json.Unmarshal(raw, &st); err != nil {
		return zone.State{}, fmt.Errorf("decode zone document: %w", err)
	}
	if st.Valve == "" {
		st.Valve = zone.ValveOff
	}
	return st, nil
}

// applyFields merges fields into doc in place, stamps lastUpdated, and keeps
// the document free of empty reason markers.
func applyFields(doc map[string]any, fields map[string]any) {
	for k, v := range fields {
		doc[k] = v
	}
	if r, ok := doc["reason"]; ok {
		if s, isStr := r.(string); isStr && s == "" {
			delete(doc, "reason")
		}
	}
	doc["lastUpdated"] = nowStamp()
}
