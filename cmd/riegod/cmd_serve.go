// v2
// cmd/riegod/cmd_serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rlpzx/auto-riego/internal/auth"
	"github.com/Rlpzx/auto-riego/internal/bridge"
	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/config"
	"github.com/Rlpzx/auto-riego/internal/control"
	"github.com/Rlpzx/auto-riego/internal/httpapi"
	"github.com/Rlpzx/auto-riego/internal/logging"
	"github.com/Rlpzx/auto-riego/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the irrigation controller daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

const shutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	log, logFile := logging.Init("riegod")
	defer logFile.Close()
	log.Info("riegod starting")

	cfg, err := config.LoadEnvAndFiles()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Info("config loaded",
		slog.Any("zones", cfg.Zones),
		slog.String("store", cfg.StoreBackend),
		slog.Bool("kafka", cfg.KafkaEnabled()),
		slog.Bool("mqtt", cfg.MQTTEnabled()))

	st, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	operators, err := auth.LoadOperators(cfg.OperatorsPath)
	if err != nil {
		return fmt.Errorf("operators: %w", err)
	}
	if len(operators.List()) == 0 {
		log.Warn("no operators configured; manual control is unusable until `riegod operator add` runs")
	}
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)

	hub := bus.NewHub(log)
	seq := control.NewSequencer(log)
	coord := control.NewCoordinator(cfg.ZoneConfigs, st, hub, seq, log)
	gw := control.NewGateway(cfg.ZoneConfigs, st, hub, seq, log)

	var kafkaFwd *bridge.KafkaForwarder
	if cfg.KafkaEnabled() {
		kafkaFwd, err = bridge.NewKafkaForwarder(bridge.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Acks:        cfg.KafkaAcks,
		}, hub, log)
		if err != nil {
			return fmt.Errorf("kafka bridge: %w", err)
		}
	}
	var mqttBridge *bridge.MQTTBridge
	if cfg.MQTTEnabled() {
		mqttBridge, err = bridge.NewMQTTBridge(bridge.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, hub, coord, log)
		if err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
	}

	h := &httpapi.Handlers{
		Log:         log,
		Zones:       cfg.ZoneConfigs,
		Reader:      st,
		Coordinator: coord,
		Gateway:     gw,
		Operators:   operators,
		Tokens:      tokens,
		Hub:         hub,
		DeviceKey:   cfg.DeviceAPIKey,
	}
	srv := httpapi.NewServer(cfg.HTTPBind, httpapi.NewRouter(h, os.Stdout), log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_err", slog.Any("err", err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	// Stop ingress first, drain the zone queues, then let the bridges flush
	// what the drain published before the hub goes away.
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shCtx); err != nil {
		log.Error("http_stop_err", slog.Any("err", err))
	}
	seq.Close()
	if mqttBridge != nil {
		mqttBridge.Stop()
	}
	if kafkaFwd != nil {
		kafkaFwd.Stop()
	}
	hub.Close()
	log.Info("riegod stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (store.Store, error) {
	lg := log.With(slog.String("component", "store"))
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return store.NewPostgres(ctx, cfg.PostgresDSN, lg)
	case config.BackendMemory:
		lg.Warn("memory store selected; zone state will not survive a restart")
		return store.NewMemory(), nil
	default:
		return store.NewFile(filepath.Join(cfg.DataDir, "zones.jsonl"), lg)
	}
}
