// v1
// cmd/zonesim/simulate.go
package main

import (
	"context"
	"time"
)

// emitter is one transport for pushing readings to the controller.
type emitter interface {
	emit(ctx context.Context)
}

func (s *Simulator) startPhysicsLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.Step)
	s.log.Info("physics loop started", "step", s.cfg.Step.String())
	go func() {
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				s.integrate(now)
			case <-ctx.Done():
				s.log.Info("physics loop stopped")
				return
			}
		}
	}()
}

func (s *Simulator) startEmitLoop(ctx context.Context, e emitter) {
	t := time.NewTicker(s.cfg.Rate)
	s.log.Info("emit loop started", "rate", s.cfg.Rate.String(), "mode", s.cfg.Mode)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.emit(ctx)
			case <-ctx.Done():
				s.log.Info("emit loop stopped")
				return
			}
		}
	}()
}
