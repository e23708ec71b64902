// v1
// cmd/zonesim/model_test.go
package main

import (
	"testing"
	"time"

	"github.com/Rlpzx/auto-riego/internal/logging"
)

func testConfig() SimConfig {
	return SimConfig{
		ZoneID:          "sol",
		DeviceID:        "probe-1",
		Step:            time.Second,
		Rate:            5 * time.Second,
		InitialMoisture: 400,
		MoistureMax:     1000,
		DryRate:         2,
		WetRate:         10,
		InitialTemp:     22,
		TempSwing:       8,
		DayPeriod:       10 * time.Minute,
	}
}

func stepN(sim *Simulator, n int) {
	now := time.Now()
	for i := 1; i <= n; i++ {
		sim.integrate(now.Add(time.Duration(i) * time.Second))
	}
}

func TestSoilDriesWithValveClosed(t *testing.T) {
	t.Parallel()
	sim := newSimulator(testConfig(), logging.Discard())
	before, _, _ := sim.snapshot()
	stepN(sim, 10)
	after, _, watering := sim.snapshot()
	if watering {
		t.Fatal("valve should start closed")
	}
	if after >= before {
		t.Fatalf("moisture should fall while the valve is closed: %.1f -> %.1f", before, after)
	}
}

func TestWateringRefillsSoil(t *testing.T) {
	t.Parallel()
	sim := newSimulator(testConfig(), logging.Discard())
	sim.setValve("on")
	before, _, _ := sim.snapshot()
	stepN(sim, 10)
	after, _, watering := sim.snapshot()
	if !watering {
		t.Fatal("valve should be open")
	}
	if after <= before {
		t.Fatalf("moisture should rise while watering: %.1f -> %.1f", before, after)
	}
}

func TestMoistureClampedAtBounds(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DryRate = 10000
	cfg.WetRate = 10000
	sim := newSimulator(cfg, logging.Discard())

	stepN(sim, 1)
	m, _, _ := sim.snapshot()
	if m != 0 {
		t.Fatalf("moisture floor: got %.1f, want 0", m)
	}

	sim.setValve("on")
	stepN(sim, 2)
	m, _, _ = sim.snapshot()
	if m != cfg.MoistureMax {
		t.Fatalf("moisture cap: got %.1f, want %.1f", m, cfg.MoistureMax)
	}
}

func TestSetValveIgnoresNonTransitions(t *testing.T) {
	t.Parallel()
	sim := newSimulator(testConfig(), logging.Discard())

	sim.setValve("on")
	if _, _, w := sim.snapshot(); !w {
		t.Fatal("on should open the valve")
	}
	sim.setValve("none")
	if _, _, w := sim.snapshot(); !w {
		t.Fatal("none must not move the valve")
	}
	sim.setValve("sideways")
	if _, _, w := sim.snapshot(); !w {
		t.Fatal("unknown action must not move the valve")
	}
	sim.setValve("off")
	if _, _, w := sim.snapshot(); w {
		t.Fatal("off should close the valve")
	}
}

func TestReadingCarriesDeviceID(t *testing.T) {
	t.Parallel()
	sim := newSimulator(testConfig(), logging.Discard())
	r := sim.reading()
	if r.DeviceID != "probe-1" {
		t.Fatalf("deviceId = %q, want probe-1", r.DeviceID)
	}
	if r.SoilMoisture == nil || r.Temperature == nil || r.AmbientHumidity == nil || r.LightLevel == nil {
		t.Fatal("all telemetry fields should be populated")
	}
}
