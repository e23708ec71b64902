// v1
// cmd/zonesim/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Rlpzx/auto-riego/internal/logging"
)

func main() {
	log, logFile := logging.Init("zonesim")
	defer logFile.Close()
	log.Info("zone simulator starting")

	cfg, err := buildConfig(log)
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	log.Info("simulating zone", "zone", cfg.ZoneID, "device", cfg.DeviceID, "mode", cfg.Mode)

	sim := newSimulator(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	sim.startPhysicsLoop(ctx)

	var em emitter
	var disconnect func()
	if cfg.Mode == modeMQTT {
		me, err := newMQTTEmitter(cfg, sim, log)
		if err != nil {
			log.Error("mqtt emitter error", "err", err)
			os.Exit(1)
		}
		em, disconnect = me, me.stop
	} else {
		em = newHTTPEmitter(cfg, sim, log)
	}
	sim.startEmitLoop(ctx, em)

	<-stop
	log.Info("shutdown signal received")
	cancel()
	if disconnect != nil {
		disconnect()
	}
	time.Sleep(300 * time.Millisecond)
	log.Info("shutdown complete")
}
