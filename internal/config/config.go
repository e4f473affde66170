package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// sqlite | memory
		Driver string `yaml:"driver"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Remote struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"remote"`

	Sync struct {
		RetryMax      int    `yaml:"retry_max"`
		QueueCapacity int    `yaml:"queue_capacity"`
		DrainInterval string `yaml:"drain_interval"`
		ApplyTimeout  string `yaml:"apply_timeout"`
		// Simulated marca todo submit como dry-run: entra a la cola pero el
		// procesador lo descarta sin tocar el remoto.
		Simulated bool `yaml:"simulated"`
	} `yaml:"sync"`

	Session struct {
		// Margen antes del exp real del token para considerarlo vencido.
		ExpirySkew string `yaml:"expiry_skew"`
	} `yaml:"session"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	// Overrides por env + validación
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Normalizar ruta del sqlite (si relativa) respecto al directorio del YAML
	if p := strings.TrimSpace(c.Storage.SQLite.Path); p != "" {
		if !filepath.IsAbs(p) {
			base := filepath.Dir(path)
			c.Storage.SQLite.Path = filepath.Clean(filepath.Join(base, p))
		}
	}

	return &c, nil
}

// Default arma una config usable sin YAML (env-only o tests).
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	c.applyEnvOverrides()
	return c
}

func (c *Config) applyDefaults() {
	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "./data/tpvsync.db"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Remote.Timeout == "" {
		c.Remote.Timeout = "15s"
	}
	if c.Sync.RetryMax == 0 {
		c.Sync.RetryMax = 3
	}
	if c.Sync.QueueCapacity == 0 {
		c.Sync.QueueCapacity = 50
	}
	if c.Sync.DrainInterval == "" {
		c.Sync.DrainInterval = "30s"
	}
	if c.Sync.ApplyTimeout == "" {
		c.Sync.ApplyTimeout = "20s"
	}
	if c.Session.ExpirySkew == "" {
		c.Session.ExpirySkew = "30s"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("SQLITE_PATH"); ok {
		c.Storage.SQLite.Path = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_MEMORY_DEFAULT_TTL"); ok {
		c.Cache.Memory.DefaultTTL = v
	}

	// REMOTE
	if v, ok := getEnvStr("REMOTE_BASE_URL"); ok {
		c.Remote.BaseURL = v
	}
	if v, ok := getEnvStr("REMOTE_TIMEOUT"); ok {
		c.Remote.Timeout = v
	}

	// SYNC
	if v, ok := getEnvInt("SYNC_RETRY_MAX"); ok {
		c.Sync.RetryMax = v
	}
	if v, ok := getEnvInt("SYNC_QUEUE_CAPACITY"); ok {
		c.Sync.QueueCapacity = v
	}
	if v, ok := getEnvStr("SYNC_DRAIN_INTERVAL"); ok {
		c.Sync.DrainInterval = v
	}
	if v, ok := getEnvStr("SYNC_APPLY_TIMEOUT"); ok {
		c.Sync.ApplyTimeout = v
	}
	if v, ok := getEnvBool("SYNC_SIMULATED"); ok {
		c.Sync.Simulated = v
	}

	// SESSION
	if v, ok := getEnvStr("SESSION_EXPIRY_SKEW"); ok {
		c.Session.ExpirySkew = v
	}
}

// Validate chequea valores críticos y las duraciones en string.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	if c.Sync.RetryMax < 0 {
		return fmt.Errorf("config: sync.retry_max must be >= 0")
	}
	if c.Sync.QueueCapacity < 1 {
		return fmt.Errorf("config: sync.queue_capacity must be >= 1")
	}
	for name, s := range map[string]string{
		"remote.timeout":      c.Remote.Timeout,
		"sync.drain_interval": c.Sync.DrainInterval,
		"sync.apply_timeout":  c.Sync.ApplyTimeout,
		"session.expiry_skew": c.Session.ExpirySkew,
		"cache.memory.default_ttl": c.Cache.Memory.DefaultTTL,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// Dur parsea una duración ya validada; fallback si viene vacía.
func Dur(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
