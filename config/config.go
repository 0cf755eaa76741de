// Package config loads the bridge configuration from a YAML or JSON file
// with environment expansion, or straight from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Environment variable names recognized by LoadEnv.
const (
	EnvPeerCommand      = "TOOLBRIDGE_PEER_COMMAND"
	EnvPeerArgs         = "TOOLBRIDGE_PEER_ARGS"
	EnvCallTimeout      = "TOOLBRIDGE_CALL_TIMEOUT"
	EnvRetryLimit       = "TOOLBRIDGE_RETRY_LIMIT"
	EnvRetryBackoff     = "TOOLBRIDGE_RETRY_BACKOFF"
	EnvPoolSize         = "TOOLBRIDGE_POOL_SIZE"
	EnvBreakerThreshold = "TOOLBRIDGE_BREAKER_THRESHOLD"
	EnvBreakerCooldown  = "TOOLBRIDGE_BREAKER_COOLDOWN"
	EnvCacheTTL         = "TOOLBRIDGE_CACHE_TTL"
	EnvCacheTools       = "TOOLBRIDGE_CACHE_TOOLS"
	EnvRedisAddr        = "TOOLBRIDGE_REDIS_ADDR"
	EnvBatchSize        = "TOOLBRIDGE_BATCH_SIZE"
	EnvBatchWindow      = "TOOLBRIDGE_BATCH_WINDOW"
	EnvMaxIterations    = "TOOLBRIDGE_MAX_ITERATIONS"
)

// Config is the top-level bridge configuration.
type Config struct {
	// Peer describes the subprocess that serves tools.
	Peer Peer `json:"peer" yaml:"peer" validate:"required"`
	// Calls controls per-invocation timeout and retry.
	Calls Calls `json:"calls" yaml:"calls"`
	// Pool sizes the session pool.
	Pool Pool `json:"pool" yaml:"pool"`
	// Breaker controls the per-tool circuit breaker.
	Breaker Breaker `json:"breaker" yaml:"breaker"`
	// Cache controls result caching.
	Cache Cache `json:"cache" yaml:"cache"`
	// Batch controls request batching.
	Batch Batch `json:"batch" yaml:"batch"`
	// Agent controls the orchestration loop.
	Agent Agent `json:"agent" yaml:"agent"`
}

// Peer is the command line of the subprocess to spawn. Env entries are
// appended to the inherited environment.
type Peer struct {
	Command string            `json:"command" yaml:"command" validate:"required"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Calls controls the invocation dispatcher.
type Calls struct {
	// Timeout bounds a single request round trip.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// RetryLimit is the number of additional attempts after the first.
	RetryLimit int `json:"retry_limit,omitempty" yaml:"retry_limit,omitempty" validate:"min=0,max=10"`
	// RetryBackoff is the base delay, doubled per attempt.
	RetryBackoff time.Duration `json:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty"`
}

type Pool struct {
	Size int `json:"size,omitempty" yaml:"size,omitempty" validate:"min=0,max=128"`
}

type Breaker struct {
	Threshold int           `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"min=0"`
	Cooldown  time.Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

type Cache struct {
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	// Tools lists the tool names whose results may be cached.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// RedisAddr enables the Redis backend when set; empty means in-memory.
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
}

type Batch struct {
	Size   int           `json:"size,omitempty" yaml:"size,omitempty" validate:"min=0,max=1024"`
	Window time.Duration `json:"window,omitempty" yaml:"window,omitempty"`
}

type Agent struct {
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" validate:"min=0,max=1000"`
}

// Defaults applied by Load and LoadEnv for unset values.
const (
	DefaultCallTimeout   = 30 * time.Second
	DefaultRetryLimit    = 2
	DefaultRetryBackoff  = 250 * time.Millisecond
	DefaultPoolSize      = 4
	DefaultMaxIterations = 10
)

var validate = validator.New()

// Load reads the configuration from file, expanding ${ENV} references.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv builds the configuration from TOOLBRIDGE_* environment
// variables alone.
func LoadEnv() (*Config, error) {
	cfg := &Config{
		Peer: Peer{
			Command: os.Getenv(EnvPeerCommand),
		},
		Cache: Cache{
			RedisAddr: os.Getenv(EnvRedisAddr),
		},
	}
	if args := os.Getenv(EnvPeerArgs); args != "" {
		cfg.Peer.Args = strings.Fields(args)
	}
	if tools := os.Getenv(EnvCacheTools); tools != "" {
		cfg.Cache.Tools = strings.Split(tools, ",")
	}

	var err error
	if cfg.Calls.Timeout, err = envDuration(EnvCallTimeout); err != nil {
		return nil, err
	}
	if cfg.Calls.RetryLimit, err = envInt(EnvRetryLimit); err != nil {
		return nil, err
	}
	if cfg.Calls.RetryBackoff, err = envDuration(EnvRetryBackoff); err != nil {
		return nil, err
	}
	if cfg.Pool.Size, err = envInt(EnvPoolSize); err != nil {
		return nil, err
	}
	if cfg.Breaker.Threshold, err = envInt(EnvBreakerThreshold); err != nil {
		return nil, err
	}
	if cfg.Breaker.Cooldown, err = envDuration(EnvBreakerCooldown); err != nil {
		return nil, err
	}
	if cfg.Cache.TTL, err = envDuration(EnvCacheTTL); err != nil {
		return nil, err
	}
	if cfg.Batch.Size, err = envInt(EnvBatchSize); err != nil {
		return nil, err
	}
	if cfg.Batch.Window, err = envDuration(EnvBatchWindow); err != nil {
		return nil, err
	}
	if cfg.Agent.MaxIterations, err = envInt(EnvMaxIterations); err != nil {
		return nil, err
	}

	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	return nil
}

func (c *Config) withDefaults() {
	if c.Calls.Timeout <= 0 {
		c.Calls.Timeout = DefaultCallTimeout
	}
	if c.Calls.RetryLimit == 0 {
		c.Calls.RetryLimit = DefaultRetryLimit
	}
	if c.Calls.RetryBackoff <= 0 {
		c.Calls.RetryBackoff = DefaultRetryBackoff
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = DefaultPoolSize
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
}

func envInt(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.WithMessagef(err, "invalid %s", name)
	}
	return n, nil
}

func envDuration(name string) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.WithMessagef(err, "invalid %s", name)
	}
	return d, nil
}
