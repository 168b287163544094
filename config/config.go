/*
Package config resolves the injected configuration the engine runs with.

PURPOSE:
  Replaces the legacy pattern of module-level per-store URL/credential tables
  with one typed structure, resolved once at startup and passed explicitly to
  the adapters and the scheduler.

SOURCES:
  1. Environment variables (a .env file is honored when present, via godotenv
     in cmd/server).
  2. A stores registry file (JSON) naming each store, its sensors and its
     region topology, pointed to by STORES_FILE.

VALIDATION:
  Structs carry go-playground/validator tags; Load fails fast on a registry
  that names a store without an id or a sensor without an address.
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/grnl/retail-engine/telemetry"
)

// SalesAPI holds the connection parameters for the sales backoffice API.
// Credentials feed the external token exchange; the engine itself only ever
// handles the resulting bearer token.
type SalesAPI struct {
	BaseURL  string `json:"base_url" validate:"required,url"`
	QueryID  string `json:"query_id" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SensorAuth is the HTTP basic-auth pair shared by the counting sensors.
type SensorAuth struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Store describes one configured store: its sensors and region topology.
type Store struct {
	ID      telemetry.StoreID  `json:"id" validate:"required"`
	Sensors []telemetry.Sensor `json:"sensors" validate:"dive"`
	Regions []string           `json:"regions"`
}

// Collector holds the scheduler tuning knobs.
type Collector struct {
	Interval      time.Duration `json:"-" validate:"required"`
	Lookback      time.Duration `json:"-" validate:"required"`
	RetryWait     time.Duration `json:"-"`
	RetryAttempts int           `json:"-" validate:"min=1"`
	HTTPTimeout   time.Duration `json:"-"`
}

// Config is the root configuration structure.
type Config struct {
	HTTPPort     int                            `validate:"min=1,max=65535"`
	DBPath       string                         `validate:"required"`
	LogLevel     string                         `validate:"oneof=debug info warn error"`
	SalesAPI     SalesAPI                       `validate:"required"`
	SensorAuth   SensorAuth                     `validate:"required"`
	Stores       []Store                        `validate:"min=1,dive"`
	Groups       map[string][]telemetry.StoreID `validate:"-"`
	IgnoredItems []string                       `validate:"-"`
	Collector    Collector                      `validate:"required"`
}

// StoreByID looks a store up in the registry.
func (c *Config) StoreByID(id telemetry.StoreID) (Store, bool) {
	for _, s := range c.Stores {
		if s.ID == id {
			return s, true
		}
	}
	return Store{}, false
}

// GroupStores resolves a group name to its member store ids.
func (c *Config) GroupStores(name string) ([]telemetry.StoreID, bool) {
	ids, ok := c.Groups[name]
	return ids, ok
}

// IgnoredSet returns the ignored item codes as a lookup set.
func (c *Config) IgnoredSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.IgnoredItems))
	for _, item := range c.IgnoredItems {
		set[item] = struct{}{}
	}
	return set
}

// registryFile is the on-disk shape of the stores registry.
type registryFile struct {
	Stores       []Store                        `json:"stores"`
	Groups       map[string][]telemetry.StoreID `json:"groups"`
	IgnoredItems []string                       `json:"ignored_items"`
}

// Load builds the configuration from environment variables and the stores
// registry file, then validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: envInt("HTTP_PORT", 8080),
		DBPath:   envString("DB_PATH", "retail.db"),
		LogLevel: envString("LOG_LEVEL", "info"),
		SalesAPI: SalesAPI{
			BaseURL:  envString("SALES_API_URL", ""),
			QueryID:  envString("SALES_QUERY_ID", ""),
			Username: envString("SALES_USERNAME", ""),
			Password: envString("SALES_PASSWORD", ""),
		},
		SensorAuth: SensorAuth{
			Username: envString("SENSOR_USERNAME", ""),
			Password: envString("SENSOR_PASSWORD", ""),
		},
		Collector: Collector{
			Interval:      envDuration("COLLECT_INTERVAL", 20*time.Minute),
			Lookback:      envDuration("COLLECT_LOOKBACK", time.Hour),
			RetryWait:     envDuration("COLLECT_RETRY_WAIT", 10*time.Second),
			RetryAttempts: envInt("COLLECT_RETRY_ATTEMPTS", 5),
			HTTPTimeout:   envDuration("SOURCE_HTTP_TIMEOUT", 30*time.Second),
		},
	}

	registryPath := envString("STORES_FILE", "stores.json")
	if err := cfg.loadRegistry(registryPath); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadRegistry(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read stores registry %s: %w", path, err)
	}
	var reg registryFile
	if err := json.Unmarshal(raw, &reg); err != nil {
		return fmt.Errorf("parse stores registry %s: %w", path, err)
	}
	c.Stores = reg.Stores
	c.Groups = reg.Groups
	c.IgnoredItems = reg.IgnoredItems
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
