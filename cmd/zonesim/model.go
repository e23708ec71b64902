// v1
// cmd/zonesim/model.go
package main

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

// Simulator integrates a toy plot model: soil dries at a steady rate, the
// valve wets it back faster than it dries, and temperature tracks a
// compressed day cycle around the configured base. Humidity and light are
// derived from the same cycle.
type Simulator struct {
	log *slog.Logger
	cfg SimConfig

	mu       sync.Mutex
	moisture float64
	temp     float64
	humidity float64
	light    float64
	watering bool
	started  time.Time
	lastE    time.Time
}

func newSimulator(cfg SimConfig, log *slog.Logger) *Simulator {
	now := time.Now()
	return &Simulator{
		log:      log,
		cfg:      cfg,
		moisture: cfg.InitialMoisture,
		temp:     cfg.InitialTemp,
		humidity: 85 - cfg.InitialTemp,
		started:  now,
		lastE:    now,
	}
}

func (s *Simulator) integrate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := now.Sub(s.lastE).Seconds()
	if dt <= 0 {
		dt = s.cfg.Step.Seconds()
	}

	if s.watering {
		s.moisture += s.cfg.WetRate * dt
	} else {
		s.moisture -= s.cfg.DryRate * dt
	}
	if s.moisture < 0 {
		s.moisture = 0
	}
	if s.moisture > s.cfg.MoistureMax {
		s.moisture = s.cfg.MoistureMax
	}

	phase := 2 * math.Pi * now.Sub(s.started).Seconds() / s.cfg.DayPeriod.Seconds()
	target := s.cfg.InitialTemp + s.cfg.TempSwing*math.Sin(phase)
	s.temp += 0.05 * (target - s.temp) * dt
	s.humidity = clamp(85-s.temp, 20, 95)
	s.light = math.Max(0, math.Sin(phase)) * 800

	s.lastE = now
}

// reading samples the current state with a little jitter, the way real probes
// report.
func (s *Simulator) reading() zone.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return zone.Reading{
		SoilMoisture:    zone.Float(round1(s.moisture + rand.Float64()*4 - 2)),
		Temperature:     zone.Float(round1(s.temp + rand.Float64()*0.6 - 0.3)),
		AmbientHumidity: zone.Float(round1(s.humidity + rand.Float64()*2 - 1)),
		LightLevel:      zone.Float(round1(s.light)),
		DeviceID:        s.cfg.DeviceID,
	}
}

// setValve applies the controller's decision to the simulated valve. "none"
// and an empty action leave the valve alone.
func (s *Simulator) setValve(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action {
	case zone.ValveOn:
		if !s.watering {
			s.log.Info("valve opened", "zone", s.cfg.ZoneID)
		}
		s.watering = true
	case zone.ValveOff:
		if s.watering {
			s.log.Info("valve closed", "zone", s.cfg.ZoneID)
		}
		s.watering = false
	case zone.ValveNone, "":
	default:
		s.log.Warn("invalid valve action", "action", action)
	}
}

func (s *Simulator) snapshot() (moisture, temp float64, watering bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moisture, s.temp, s.watering
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
