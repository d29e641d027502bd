package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Engine      EngineConfig     `yaml:"engine"`
	Data        DataConfig       `yaml:"data"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Transition  TransitionConfig `yaml:"transition"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stdout"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	// SimulateBurst and SimulateRefill bound simulation requests per client,
	// in units of 1000 path steps. A zero burst disables the limit.
	SimulateBurst  float64 `yaml:"simulate_burst" default:"50" validate:"gte=0"`
	SimulateRefill float64 `yaml:"simulate_refill" default:"10" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// EngineConfig drives fitting and sampling.
type EngineConfig struct {
	// Products is the universe; empty selects the default product list.
	Products []string `yaml:"products"`
	Family   string   `yaml:"family" default:"t" validate:"oneof=t"`
	UpperCap int      `yaml:"upper_cap" default:"1000" validate:"min=2"`
	Fallback string   `yaml:"fallback" default:"nearest" validate:"oneof=nearest independence skip"`
	Workers  int      `yaml:"workers" default:"4" validate:"min=1"`
	// Seed fixes the master seed of runs that do not pass one; zero means
	// time-based.
	Seed           int64  `yaml:"seed"`
	IndependenceDF int    `yaml:"independence_df" validate:"min=0"`
	Source         string `yaml:"source" default:"file" validate:"oneof=file clickhouse"`
}

type DataConfig struct {
	Dir string `yaml:"dir" default:"data"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"regimesim"`
	TTL      time.Duration `yaml:"ttl" default:"24h"`
	// entries kept by the in-process cache used when Redis is disabled
	MemoryMaxSize int `yaml:"memory_max_size" default:"64" validate:"min=1"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic        string   `yaml:"topic" default:"regimesim.paths"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"regimesim"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	SeriesTable      string        `yaml:"series_table" default:"product_series"`
	ScenarioTable    string        `yaml:"scenario_table" default:"scenario_steps"`
}

// TransitionConfig points at an optional external regime transition
// service. An empty ServiceURL selects the empirical chain.
type TransitionConfig struct {
	ServiceURL string        `yaml:"service_url" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" default:"3s"`
	Attempts   int           `yaml:"attempts" default:"3" validate:"min=1"`
}

var validate = validator.New()

// Default returns a configuration holding only default values.
func Default() *Config {
	var c Config
	// tags are static; Set only fails on malformed tags
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file. Values absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides values from the environment and validates the result.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("REGIMESIM_PRODUCTS"); v != "" {
		c.Engine.Products = splitList(v)
	}
	if v := getenv("REGIMESIM_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := getenv("REGIMESIM_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("REGIMESIM_SEED: %w", err)
		}
		c.Engine.Seed = seed
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("TRANSITION_SERVICE_URL"); v != "" {
		c.Transition.ServiceURL = v
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Engine.Products))
	for _, p := range c.Engine.Products {
		if p == "" {
			return fmt.Errorf("engine.products cannot contain empty names")
		}
		if seen[p] {
			return fmt.Errorf("engine.products lists %q twice", p)
		}
		seen[p] = true
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
