// v1
// internal/store/memory_test.go
package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

func TestMemoryMergePreservesControlFields(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if err := m.SetValve(ctx, "sol", zone.ValveOn, zone.ReasonAutoSoilLow, true); err != nil {
		t.Fatalf("set valve: %v", err)
	}
	st, err := m.Merge(ctx, "sol", map[string]any{"soilMoisture": 310.0})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if st.Valve != zone.ValveOn || !st.ManualOverride || st.Reason != zone.ReasonAutoSoilLow {
		t.Fatalf("telemetry merge must not disturb control fields: %+v", st)
	}
	if _, err := m.Merge(ctx, "sol", map[string]any{"valve": "off"}); !errors.Is(err, ErrControlField) {
		t.Fatalf("expected ErrControlField, got %v", err)
	}
}

func TestMemoryGetUnknownZoneDefaults(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	st, err := m.Get(context.Background(), "nunca")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Valve != zone.ValveOff || st.ManualOverride || st.LastUpdated != "" {
		t.Fatalf("unknown zone must return the default state, got %+v", st)
	}
}
