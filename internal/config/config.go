// v3
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

// Store backends selectable via STORE_BACKEND.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type AppConfig struct {
	HTTPBind     string
	DataDir      string
	StoreBackend string
	PostgresDSN  string

	DeviceAPIKey  string
	JWTSecret     string
	TokenTTL      time.Duration
	OperatorsPath string

	PropertiesPath string
	Zones          []string
	ZoneConfigs    map[string]zone.Config

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaAcks        int

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
}

// KafkaEnabled reports whether the Kafka bridge should be started.
func (c *AppConfig) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// MQTTEnabled reports whether the MQTT bridge should be started.
func (c *AppConfig) MQTTEnabled() bool { return c.MQTTBroker != "" }

// LoadEnvAndFiles reads environment variables and the zone properties file.
// Missing required settings fail fast so a misconfigured daemon never serves.
func LoadEnvAndFiles() (*AppConfig, error) {
	c := &AppConfig{
		HTTPBind:         getenv("HTTP_BIND", ":8080"),
		DataDir:          getenv("DATA_DIR", "./data"),
		StoreBackend:     getenv("STORE_BACKEND", BackendFile),
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		DeviceAPIKey:     getenv("DEVICE_API_KEY", ""),
		JWTSecret:        getenv("JWT_SECRET", ""),
		TokenTTL:         time.Duration(geti("TOKEN_TTL_MIN", 1440)) * time.Minute,
		OperatorsPath:    getenv("OPERATORS_PATH", "./configs/operators.json"),
		PropertiesPath:   getenv("PROPERTIES_PATH", "./configs/zones.properties"),
		KafkaBrokers:     split(getenv("KAFKA_BROKERS", ""), ","),
		KafkaTopicPrefix: getenv("KAFKA_TOPIC_PREFIX", "riego."),
		KafkaAcks:        geti("KAFKA_ACKS", -1),
		MQTTBroker:       getenv("MQTT_BROKER", ""),
		MQTTClientID:     getenv("MQTT_CLIENT_ID", "riegod"),
		MQTTTopicPrefix:  getenv("MQTT_TOPIC_PREFIX", "riego/"),
	}
	if c.DeviceAPIKey == "" {
		return nil, errors.New("DEVICE_API_KEY required")
	}
	if c.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET required")
	}
	switch c.StoreBackend {
	case BackendFile, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if err := c.loadProperties(c.PropertiesPath); err != nil {
		return nil, err
	}
	return c, nil
}

// loadProperties parses the zone table. The file declares the zone list and
// per-zone thresholds:
//
//	zones=sol,sombra
//	threshold.sol=300
//	tempHigh.sol=35
//	tempLow.sol=5
//
// A bare threshold/tempHigh/tempLow key applies to every declared zone and
// can be refined per zone afterwards. Thresholds are mandatory; temperature
// bounds default to 40 and 0 when omitted.
func (c *AppConfig) loadProperties(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	thresholds := map[string]float64{}
	tempHighs := map[string]float64{}
	tempLows := map[string]float64{}
	var zones []string

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch k {
		case "zones":
			zones = split(v, ",")
		case "threshold":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				for _, z := range zones {
					thresholds[z] = f
				}
			}
		case "tempHigh":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				for _, z := range zones {
					tempHighs[z] = f
				}
			}
		case "tempLow":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				for _, z := range zones {
					tempLows[z] = f
				}
			}
		default:
			if z, found := strings.CutPrefix(k, "threshold."); found {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					thresholds[z] = f
				}
			} else if z, found := strings.CutPrefix(k, "tempHigh."); found {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					tempHighs[z] = f
				}
			} else if z, found := strings.CutPrefix(k, "tempLow."); found {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					tempLows[z] = f
				}
			}
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if len(zones) == 0 {
		return errors.New("zones must be set in properties")
	}
	cfgs := make(map[string]zone.Config, len(zones))
	for _, z := range zones {
		th, ok := thresholds[z]
		if !ok {
			return fmt.Errorf("missing threshold for zone %s", z)
		}
		hi, ok := tempHighs[z]
		if !ok {
			hi = 40
		}
		lo, ok := tempLows[z]
		if !ok {
			lo = 0
		}
		if lo >= hi {
			return fmt.Errorf("zone %s: tempLow %.1f must be below tempHigh %.1f", z, lo, hi)
		}
		cfgs[z] = zone.Config{SoilThreshold: th, TempHigh: hi, TempLow: lo}
	}
	c.Zones = zones
	c.ZoneConfigs = cfgs
	return nil
}

// OperatorsPath resolves the credential file location on its own, so the
// operator subcommands work without the full daemon configuration.
func OperatorsPath() string { return getenv("OPERATORS_PATH", "./configs/operators.json") }

// PropertiesPath resolves the zone table location on its own.
func PropertiesPath() string { return getenv("PROPERTIES_PATH", "./configs/zones.properties") }

// LoadZoneTable parses just the zone properties file, for subcommands that
// inspect the zone table without starting the daemon.
func LoadZoneTable(path string) ([]string, map[string]zone.Config, error) {
	var c AppConfig
	if err := c.loadProperties(path); err != nil {
		return nil, nil, err
	}
	return c.Zones, c.ZoneConfigs, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
func geti(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}
func split(s, sep string) []string {
	if s == "" {
		return nil
	}
	p := strings.Split(s, sep)
	out := make([]string, 0, len(p))
	for _, x := range p {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
