// v2
// internal/control/coordinator_test.go
package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/logging"
	"github.com/Rlpzx/auto-riego/internal/store"
	"github.com/Rlpzx/auto-riego/internal/zone"
)

func testZones() map[string]zone.Config {
	return map[string]zone.Config{
		"sol":    {SoilThreshold: 300, TempHigh: 35, TempLow: 5},
		"sombra": {SoilThreshold: 320, TempHigh: 32, TempLow: 8},
	}
}

type recordedEvent struct {
	topic   string
	payload any
}

// recordingBus captures publishes in order for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBus) Publish(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{topic: topic, payload: payload})
}

func (b *recordingBus) snapshot() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedEvent, len(b.events))
	copy(out, b.events)
	return out
}

// failStore wraps a Store and fails selected mutations.
type failStore struct {
	store.Store
	failMerge   bool
	failSet     bool
	failSetOffs bool
}

func (f *failStore) Merge(ctx context.Context, zoneID string, fields map[string]any) (zone.State, error) {
	if f.failMerge {
		return zone.State{}, errors.New("store down")
	}
	return f.Store.Merge(ctx, zoneID, fields)
}

func (f *failStore) SetValve(ctx context.Context, zoneID, valve, reason string, manualOverride bool) error {
	if f.failSet || (f.failSetOffs && valve == zone.ValveOff) {
		return errors.New("store down")
	}
	return f.Store.SetValve(ctx, zoneID, valve, reason, manualOverride)
}

// hookStore fires a callback before the first Get, emulating state that
// changes between a decision and its deferred write.
type hookStore struct {
	store.Store
	mu    sync.Mutex
	onGet func()
	fired bool
}

func (h *hookStore) Get(ctx context.Context, zoneID string) (zone.State, error) {
	h.mu.Lock()
	fire := h.onGet != nil && !h.fired
	if fire {
		h.fired = true
	}
	h.mu.Unlock()
	if fire {
		h.onGet()
	}
	return h.Store.Get(ctx, zoneID)
}

func newTestCoordinator(t *testing.T, st store.Store) (*Coordinator, *recordingBus, *Sequencer) {
	t.Helper()
	pub := &recordingBus{}
	seq := NewSequencer(logging.Discard())
	t.Cleanup(seq.Close)
	return NewCoordinator(testZones(), st, pub, seq, logging.Discard()), pub, seq
}

// flush waits for everything queued on the zone, including deferred
// auto-close tasks, by running a barrier task behind them.
func flush(t *testing.T, seq *Sequencer, zoneID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := seq.Do(ctx, zoneID, func() error { return nil }); err != nil {
		t.Fatalf("flush %s: %v", zoneID, err)
	}
}

func mustState(t *testing.T, st store.Store, zoneID string) zone.State {
	t.Helper()
	s, err := st.Get(context.Background(), zoneID)
	if err != nil {
		t.Fatalf("get %s: %v", zoneID, err)
	}
	return s
}

func TestIngestUnknownZoneRejected(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, _ := newTestCoordinator(t, mem)

	_, err := c.Ingest(context.Background(), "desierto", zone.Reading{SoilMoisture: zone.Float(100)})
	if !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone, got %v", err)
	}
	all, err := mem.All(context.Background())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("rejected ingest must not write state: %v", all)
	}
	if got := pub.snapshot(); len(got) != 0 {
		t.Fatalf("rejected ingest must not publish, got %v", got)
	}
}

func TestIngestLowMoistureOpensValve(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, _ := newTestCoordinator(t, mem)

	res, err := c.Ingest(context.Background(), "sol", zone.Reading{
		SoilMoisture: zone.Float(250),
		Temperature:  zone.Float(20),
		DeviceID:     "esp32-7",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ValveAction != zone.ValveOn {
		t.Fatalf("expected valve on, got %q", res.ValveAction)
	}
	if joined := strings.Join(res.Advisories, " "); !strings.Contains(joined, "opening valve automatically") {
		t.Fatalf("missing open advisory: %v", res.Advisories)
	}

	st := mustState(t, mem, "sol")
	if st.Valve != zone.ValveOn || st.ManualOverride || st.Reason != zone.ReasonAutoSoilLow {
		t.Fatalf("unexpected state after auto open: %+v", st)
	}
	if st.SoilMoisture == nil || *st.SoilMoisture != 250 || st.DeviceID != "esp32-7" {
		t.Fatalf("telemetry not merged: %+v", st)
	}

	events := pub.snapshot()
	if len(events) != 1 || events[0].topic != bus.TopicSensorUpdate {
		t.Fatalf("expected one sensor-update, got %v", events)
	}
	ev, ok := events[0].payload.(SensorEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].payload)
	}
	if ev.ZoneID != "sol" || ev.Decision.Action != zone.ValveOn || ev.State.Valve != zone.ValveOn {
		t.Fatalf("event does not reflect the applied decision: %+v", ev)
	}
}

func TestIngestAutoOpenClearsManualOff(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, seq := newTestCoordinator(t, mem)
	g := NewGateway(testZones(), mem, pub, seq, logging.Discard())

	// Operator forces the valve shut...
	st, err := g.Apply(context.Background(), "sol", zone.ValveOff, Principal{ID: "op-1", Name: "ana"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.Valve != zone.ValveOff || !st.ManualOverride {
		t.Fatalf("manual off not applied: %+v", st)
	}

	// ...and a critically dry reading still re-opens it, clearing the flag.
	res, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(200)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ValveAction != zone.ValveOn {
		t.Fatalf("expected auto open, got %q", res.ValveAction)
	}
	st = mustState(t, mem, "sol")
	if st.Valve != zone.ValveOn || st.ManualOverride || st.Reason != zone.ReasonAutoSoilLow {
		t.Fatalf("auto open must win over manual off: %+v", st)
	}

	events := pub.snapshot()
	if len(events) != 2 || events[0].topic != bus.TopicControlUpdate || events[1].topic != bus.TopicSensorUpdate {
		t.Fatalf("unexpected event sequence: %v", events)
	}
}

func TestIngestHysteresisBandHoldsValve(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, _, seq := newTestCoordinator(t, mem)

	if err := mem.SetValve(context.Background(), "sol", zone.ValveOn, zone.ReasonAutoSoilLow, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(340)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ValveAction != zone.ValveNone {
		t.Fatalf("hysteresis band must hold, got %q", res.ValveAction)
	}
	flush(t, seq, "sol")
	if st := mustState(t, mem, "sol"); st.Valve != zone.ValveOn {
		t.Fatalf("valve must stay open inside the band: %+v", st)
	}
}

func TestIngestAutoClosesPastHysteresis(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, seq := newTestCoordinator(t, mem)

	if err := mem.SetValve(context.Background(), "sol", zone.ValveOn, zone.ReasonAutoSoilLow, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(360)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ValveAction != zone.ValveOff {
		t.Fatalf("expected auto close decision, got %q", res.ValveAction)
	}
	flush(t, seq, "sol")

	st := mustState(t, mem, "sol")
	if st.Valve != zone.ValveOff || st.Reason != zone.ReasonSoilOK || st.ManualOverride {
		t.Fatalf("deferred close not applied: %+v", st)
	}

	events := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected sensor event plus deferred control event, got %v", events)
	}
	ctl, ok := events[1].payload.(ControlEvent)
	if !ok || events[1].topic != bus.TopicControlUpdate {
		t.Fatalf("second event must be the auto close: %v", events[1])
	}
	if ctl.Origin != OriginAuto || ctl.Action != zone.ValveOff || ctl.State.Valve != zone.ValveOff {
		t.Fatalf("unexpected auto close event: %+v", ctl)
	}
}

func TestIngestManualOverrideBlocksAutoClose(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, _, seq := newTestCoordinator(t, mem)

	if err := mem.SetValve(context.Background(), "sol", zone.ValveOn, "", true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(360)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ValveAction != zone.ValveNone {
		t.Fatalf("override must block the close decision, got %q", res.ValveAction)
	}
	flush(t, seq, "sol")
	st := mustState(t, mem, "sol")
	if st.Valve != zone.ValveOn || !st.ManualOverride {
		t.Fatalf("overridden valve must stay open: %+v", st)
	}
}

func TestAutoCloseSkippedWhenManualWinsTheRace(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	if err := mem.SetValve(context.Background(), "sol", zone.ValveOn, zone.ReasonAutoSoilLow, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// The deferred close re-reads state before writing; flip it to a manual
	// open at exactly that point, as a racing operator command would.
	hooked := &hookStore{Store: mem}
	hooked.onGet = func() {
		if err := mem.SetValve(context.Background(), "sol", zone.ValveOn, "", true); err != nil {
			t.Errorf("racing manual set: %v", err)
		}
	}
	c, pub, seq := newTestCoordinator(t, hooked)

	res, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(400)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.ValveAction != zone.ValveOff {
		t.Fatalf("expected close decision, got %q", res.ValveAction)
	}
	flush(t, seq, "sol")

	st := mustState(t, mem, "sol")
	if st.Valve != zone.ValveOn || !st.ManualOverride {
		t.Fatalf("stale auto close must not overwrite the manual open: %+v", st)
	}
	for _, ev := range pub.snapshot() {
		if ev.topic == bus.TopicControlUpdate {
			t.Fatalf("skipped close must not publish a control event: %+v", ev)
		}
	}
}

func TestIngestMergeFailurePropagates(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, _ := newTestCoordinator(t, &failStore{Store: mem, failMerge: true})

	_, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(250)})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if got := pub.snapshot(); len(got) != 0 {
		t.Fatalf("failed ingest must not publish, got %v", got)
	}
}

func TestIngestValveWriteFailurePropagates(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, _ := newTestCoordinator(t, &failStore{Store: mem, failSet: true})

	_, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(250)})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if got := pub.snapshot(); len(got) != 0 {
		t.Fatalf("failed ingest must not publish, got %v", got)
	}
	// The telemetry merge itself went through before the valve write failed.
	st := mustState(t, mem, "sol")
	if st.SoilMoisture == nil || *st.SoilMoisture != 250 {
		t.Fatalf("telemetry merge should have persisted: %+v", st)
	}
	if st.Valve != zone.ValveOff {
		t.Fatalf("valve must be untouched after failed write: %+v", st)
	}
}

func TestAutoCloseStorageFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	if err := mem.SetValve(context.Background(), "sol", zone.ValveOn, zone.ReasonAutoSoilLow, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c, pub, seq := newTestCoordinator(t, &failStore{Store: mem, failSetOffs: true})

	res, err := c.Ingest(context.Background(), "sol", zone.Reading{SoilMoisture: zone.Float(400)})
	if err != nil {
		t.Fatalf("best-effort close must not fail the ingest: %v", err)
	}
	if res.ValveAction != zone.ValveOff {
		t.Fatalf("expected close decision, got %q", res.ValveAction)
	}
	flush(t, seq, "sol")

	// Valve simply stays open pending the next reading.
	if st := mustState(t, mem, "sol"); st.Valve != zone.ValveOn {
		t.Fatalf("unexpected state after swallowed failure: %+v", st)
	}
	for _, ev := range pub.snapshot() {
		if ev.topic == bus.TopicControlUpdate {
			t.Fatalf("failed close must not publish a control event: %+v", ev)
		}
	}
}

func TestIngestStampsTimestamp(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, _ := newTestCoordinator(t, mem)

	bogus := "2001-01-01T00:00:00Z"
	if _, err := c.Ingest(context.Background(), "sombra", zone.Reading{
		SoilMoisture: zone.Float(500),
		Timestamp:    bogus,
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	st := mustState(t, mem, "sombra")
	if st.Timestamp == bogus || st.Timestamp == "" {
		t.Fatalf("device timestamp must be replaced, got %q", st.Timestamp)
	}
	stamped, err := time.Parse(time.RFC3339, st.Timestamp)
	if err != nil {
		t.Fatalf("stamp not RFC3339: %v", err)
	}
	if time.Since(stamped) > time.Minute {
		t.Fatalf("stamp not current: %v", stamped)
	}
	ev := pub.snapshot()[0].payload.(SensorEvent)
	if ev.Reading.Timestamp != st.Timestamp {
		t.Fatalf("event and state disagree on timestamp: %q vs %q", ev.Reading.Timestamp, st.Timestamp)
	}
}

func TestIngestEventsKeepPerZoneOrder(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, pub, _ := newTestCoordinator(t, mem)

	for _, m := range []float64{500, 510, 520} {
		if _, err := c.Ingest(context.Background(), "sombra", zone.Reading{SoilMoisture: zone.Float(m)}); err != nil {
			t.Fatalf("ingest %v: %v", m, err)
		}
	}
	events := pub.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []float64{500, 510, 520} {
		ev := events[i].payload.(SensorEvent)
		if ev.Reading.SoilMoisture == nil || *ev.Reading.SoilMoisture != want {
			t.Fatalf("event %d out of order: %+v", i, ev.Reading)
		}
	}
}

func TestIngestConcurrentZonesAllSucceed(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	c, _, _ := newTestCoordinator(t, mem)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		for _, z := range []string{"sol", "sombra"} {
			z := z
			m := float64(200 + i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Ingest(context.Background(), z, zone.Reading{SoilMoisture: zone.Float(m)}); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent ingest failed: %v", err)
	}
}
