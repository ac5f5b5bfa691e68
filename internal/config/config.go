package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type DispatcherConfig struct {
	Concurrency    int    `yaml:"concurrency"`
	DefaultBackend string `yaml:"default_backend"`
	DefaultFormat  string `yaml:"default_format"`
}

type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type StreamConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	QueueCapacity int `yaml:"queue_capacity"`
	PollMS        int `yaml:"poll_ms"`
}

type BackendConfig struct {
	Mode      string `yaml:"mode"` // mock, http
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type BackendsConfig struct {
	BCut     BackendConfig `yaml:"bcut"`
	JianYing BackendConfig `yaml:"jianying"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	Cache       CacheConfig      `yaml:"cache"`
	Stream      StreamConfig     `yaml:"stream"`
	Backends    BackendsConfig   `yaml:"backends"`
	History     HistoryConfig    `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Dispatcher: DispatcherConfig{
			Concurrency:    3,
			DefaultBackend: "bcut",
			DefaultFormat:  "txt",
		},
		Cache: CacheConfig{
			Enabled:  true,
			Path:     filepath.Join(os.TempDir(), "voxd", "asr_cache.json"),
			MaxBytes: 10 * 1024 * 1024,
		},
		Stream: StreamConfig{
			ChunkSize:     16 * 1024,
			QueueCapacity: 100,
			PollMS:        100,
		},
		Backends: BackendsConfig{
			BCut: BackendConfig{
				Mode:      "mock",
				Endpoint:  "https://member.bilibili.com/x/bcut/rubick-interface",
				TimeoutMS: 45000,
			},
			JianYing: BackendConfig{
				Mode:      "mock",
				Endpoint:  "https://lv-pc-api.ulikecam.com/lv/v1",
				TimeoutMS: 45000,
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/voxd-history.db",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOXD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOXD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOXD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXD_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Dispatcher.Concurrency, "VOXD_DISPATCHER_CONCURRENCY")
	overrideString(&cfg.Dispatcher.DefaultBackend, "VOXD_DISPATCHER_DEFAULT_BACKEND")
	overrideString(&cfg.Dispatcher.DefaultFormat, "VOXD_DISPATCHER_DEFAULT_FORMAT")
	overrideBool(&cfg.Cache.Enabled, "VOXD_CACHE_ENABLED")
	overrideString(&cfg.Cache.Path, "VOXD_CACHE_PATH")
	overrideInt64(&cfg.Cache.MaxBytes, "VOXD_CACHE_MAX_BYTES")
	overrideInt(&cfg.Stream.ChunkSize, "VOXD_STREAM_CHUNK_SIZE")
	overrideInt(&cfg.Stream.QueueCapacity, "VOXD_STREAM_QUEUE_CAPACITY")
	overrideInt(&cfg.Stream.PollMS, "VOXD_STREAM_POLL_MS")
	overrideString(&cfg.Backends.BCut.Mode, "VOXD_BACKEND_BCUT_MODE")
	overrideString(&cfg.Backends.BCut.Endpoint, "VOXD_BACKEND_BCUT_ENDPOINT")
	overrideInt(&cfg.Backends.BCut.TimeoutMS, "VOXD_BACKEND_BCUT_TIMEOUT_MS")
	overrideString(&cfg.Backends.JianYing.Mode, "VOXD_BACKEND_JIANYING_MODE")
	overrideString(&cfg.Backends.JianYing.Endpoint, "VOXD_BACKEND_JIANYING_ENDPOINT")
	overrideInt(&cfg.Backends.JianYing.TimeoutMS, "VOXD_BACKEND_JIANYING_TIMEOUT_MS")
	overrideBool(&cfg.History.Enabled, "VOXD_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "VOXD_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "VOXD_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxJobs, "VOXD_HISTORY_MAX_JOBS")
	overrideBool(&cfg.History.VacuumOnStart, "VOXD_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Dispatcher.Concurrency <= 0 {
		return errors.New("dispatcher.concurrency must be >= 1")
	}
	switch cfg.Dispatcher.DefaultBackend {
	case "bcut", "jianying":
		// ok
	default:
		return errors.New("dispatcher.default_backend must be one of bcut|jianying")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Path == "" {
			return errors.New("cache.path must not be empty when cache is enabled")
		}
		if cfg.Cache.MaxBytes <= 0 {
			return errors.New("cache.max_bytes must be positive")
		}
	}
	if cfg.Stream.ChunkSize <= 0 {
		return errors.New("stream.chunk_size must be positive")
	}
	if cfg.Stream.QueueCapacity <= 0 {
		return errors.New("stream.queue_capacity must be positive")
	}
	if cfg.Stream.PollMS <= 0 {
		return errors.New("stream.poll_ms must be positive")
	}
	for name, backend := range map[string]BackendConfig{"bcut": cfg.Backends.BCut, "jianying": cfg.Backends.JianYing} {
		switch backend.Mode {
		case "mock", "http":
			// ok
		default:
			return fmt.Errorf("backends.%s.mode must be one of mock|http", name)
		}
		if backend.Mode == "http" && backend.Endpoint == "" {
			return fmt.Errorf("backends.%s.endpoint must be set when mode=http", name)
		}
		if backend.TimeoutMS <= 0 {
			return fmt.Errorf("backends.%s.timeout_ms must be positive", name)
		}
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	return nil
}
