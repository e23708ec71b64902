// v1
// cmd/zonesim/config.go
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Emitter transports selectable via SIM_MODE.
const (
	modeHTTP = "http"
	modeMQTT = "mqtt"
)

// SimConfig drives one simulated field device: the plot physics and the
// transport it reports over. Physics comes from the properties file named by
// SIM_PROPERTIES; transport settings come from the environment.
type SimConfig struct {
	ZoneID   string
	DeviceID string

	Step time.Duration
	Rate time.Duration

	InitialMoisture float64
	MoistureMax     float64
	DryRate         float64
	WetRate         float64
	InitialTemp     float64
	TempSwing       float64
	DayPeriod       time.Duration

	Mode            string
	ControllerURL   string
	DeviceAPIKey    string
	MQTTBroker      string
	MQTTTopicPrefix string
}

func loadProps(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load properties file: %w", err)
	}
	m := map[string]string{}
	for _, ln := range strings.Split(string(b), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") || strings.HasPrefix(ln, "//") {
			continue
		}
		kv := strings.SplitN(ln, "=", 2)
		if len(kv) != 2 {
			continue
		}
		m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return m, nil
}

func getf(m map[string]string, key string, def float64, log *slog.Logger) float64 {
	if v, ok := m[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn("invalid float in properties, using default", "key", key, "val", v, "default", def)
	}
	return def
}

func getd(m map[string]string, key string, def time.Duration, log *slog.Logger) time.Duration {
	if v, ok := m[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn("invalid duration in properties, using default", "key", key, "val", v, "default", def)
	}
	return def
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func buildConfig(log *slog.Logger) (SimConfig, error) {
	propsPath := os.Getenv("SIM_PROPERTIES")
	if propsPath == "" {
		return SimConfig{}, errors.New("SIM_PROPERTIES env var not set")
	}
	props, err := loadProps(propsPath)
	if err != nil {
		return SimConfig{}, err
	}
	zoneID := props["zoneId"]
	if zoneID == "" {
		return SimConfig{}, errors.New("properties must include zoneId")
	}

	cfg := SimConfig{
		ZoneID:          zoneID,
		DeviceID:        props["deviceId"],
		Step:            getd(props, "step", time.Second, log),
		Rate:            getd(props, "rate", 5*time.Second, log),
		InitialMoisture: getf(props, "initial_moisture", 420, log),
		MoistureMax:     getf(props, "moisture_max", 1000, log),
		DryRate:         getf(props, "dry_rate", 1.5, log),
		WetRate:         getf(props, "wet_rate", 6, log),
		InitialTemp:     getf(props, "initial_temp", 22, log),
		TempSwing:       getf(props, "temp_swing", 8, log),
		DayPeriod:       getd(props, "day_period", 10*time.Minute, log),

		Mode:            getenv("SIM_MODE", modeHTTP),
		ControllerURL:   getenv("CONTROLLER_URL", "http://localhost:8080"),
		DeviceAPIKey:    os.Getenv("DEVICE_API_KEY"),
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTTopicPrefix: getenv("MQTT_TOPIC_PREFIX", "riego/"),
	}
	switch cfg.Mode {
	case modeHTTP:
		if cfg.DeviceAPIKey == "" {
			return SimConfig{}, errors.New("DEVICE_API_KEY required in http mode")
		}
	case modeMQTT:
		if cfg.MQTTBroker == "" {
			return SimConfig{}, errors.New("MQTT_BROKER required in mqtt mode")
		}
	default:
		return SimConfig{}, fmt.Errorf("unknown SIM_MODE %q", cfg.Mode)
	}
	return cfg, nil
}
