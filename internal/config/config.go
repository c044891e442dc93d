// Package config loads the sweep configuration for cmd/bench.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"

	"github.com/alarmfox/pingbench/internal/pbench"
)

// EnvPrefix is the prefix of environment variables overriding the file.
const EnvPrefix = "PBENCH_"

type Config struct {
	Models      []string      `koanf:"models"`
	Connections []int         `koanf:"connections"`
	Host        string        `koanf:"host"`
	QuickAck    bool          `koanf:"quick_ack"`
	Sampler     SamplerConfig `koanf:"sampler"`
	Output      OutputConfig  `koanf:"output"`
	Logging     LoggingConfig `koanf:"logging"`
}

type SamplerConfig struct {
	WarmUp          time.Duration `koanf:"warm_up"`
	MeasurementTime time.Duration `koanf:"measurement_time"`
	Samples         int           `koanf:"samples"`
}

type OutputConfig struct {
	// CSV is the report file. Empty means table output only.
	CSV string `koanf:"csv"`
}

type LoggingConfig struct {
	// Level is any logrus level name.
	Level string `koanf:"level"`
}

// Load layers defaults, the TOML file at configPath (if any) and PBENCH_
// environment variables, in that order. A double underscore in a variable
// name stands for a literal underscore, a single one separates sections:
// PBENCH_SAMPLER_WARM__UP sets sampler.warm_up.
func Load(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ZeroFields:       true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToWeakSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	models := make([]string, 0, len(pbench.Models))
	for _, m := range pbench.Models {
		models = append(models, m.String())
	}
	return &Config{
		Models:      models,
		Connections: append([]int(nil), pbench.DefaultConnections...),
		Host:        "127.0.0.1",
		QuickAck:    false,
		Sampler: SamplerConfig{
			WarmUp:          3 * time.Second,
			MeasurementTime: 5 * time.Second,
			Samples:         100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return errors.New("at least one model is required")
	}
	for _, m := range c.Models {
		if _, err := pbench.ParseModel(m); err != nil {
			return err
		}
	}
	if len(c.Connections) == 0 {
		return errors.New("at least one connection count is required")
	}
	for _, n := range c.Connections {
		if n < 1 {
			return fmt.Errorf("connection count %d: %w", n, pbench.ErrInvalidConnections)
		}
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Sampler.Samples < 1 {
		return pbench.ErrNoSamples
	}
	if c.Sampler.WarmUp < 0 {
		return fmt.Errorf("negative warm up: %v", c.Sampler.WarmUp)
	}
	if c.Sampler.MeasurementTime <= 0 {
		return fmt.Errorf("measurement time must be positive, got %v", c.Sampler.MeasurementTime)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// BenchConfig turns the loaded configuration into the orchestrator's input.
func (c *Config) BenchConfig() pbench.BenchConfig {
	models := make([]pbench.Model, 0, len(c.Models))
	for _, m := range c.Models {
		model, _ := pbench.ParseModel(m)
		models = append(models, model)
	}
	socket := pbench.DefaultSocketOptions
	socket.QuickAck = c.QuickAck
	return pbench.BenchConfig{
		Models:      models,
		Connections: c.Connections,
		Host:        c.Host,
		Socket:      socket,
		Sampler: pbench.LinearSampler{
			WarmUp:          c.Sampler.WarmUp,
			MeasurementTime: c.Sampler.MeasurementTime,
			Samples:         c.Sampler.Samples,
		},
	}
}
