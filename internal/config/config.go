package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/lanrelay/lanrelay/internal/delegate"
	"github.com/lanrelay/lanrelay/internal/session"
)

// Reconnect strategies understood by ReconnectConfig.
const (
	StrategyNone        = "none"
	StrategyExponential = "exponential"
	StrategyLinear      = "linear"
	StrategyInfinite    = "infinite"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Scanner ScannerConfig `yaml:"scanner"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Echo           bool              `yaml:"echo"`
	Details        map[string]string `yaml:"details"`
	MaxClients     int               `yaml:"max_clients"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	Metrics        bool              `yaml:"metrics"`
	// RequiredDetails rejects sessions that connect without these keys.
	RequiredDetails []string      `yaml:"required_details"`
	Auth            AuthConfig    `yaml:"auth"`
	Messages        MessageConfig `yaml:"messages"`
}

type AuthConfig struct {
	Tokens     []string `yaml:"tokens"`
	TokenParam string   `yaml:"token_param"`

	Header                string   `yaml:"header"`
	HeaderValues          []string `yaml:"header_values"`
	HeaderCaseInsensitive bool     `yaml:"header_case_insensitive"`

	AllowedIPs []string `yaml:"allowed_ips"`
}

type MessageConfig struct {
	MaxSize          int           `yaml:"max_size"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	Burst            int           `yaml:"burst"`
	ValidatorTimeout time.Duration `yaml:"validator_timeout"`
}

type ClientConfig struct {
	URL       string            `yaml:"url"`
	Details   map[string]string `yaml:"details"`
	Reconnect ReconnectConfig   `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Strategy     string        `yaml:"strategy"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Interval     time.Duration `yaml:"interval"`
}

type ScannerConfig struct {
	Port        int           `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives log output instead of stderr when set.
	File string `yaml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Details: map[string]string{},
			Messages: MessageConfig{
				ValidatorTimeout: 5 * time.Second,
			},
		},
		Client: ClientConfig{
			Details: map[string]string{},
			Reconnect: ReconnectConfig{
				Strategy:     StrategyExponential,
				MaxAttempts:  5,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				Interval:     5 * time.Second,
			},
		},
		Scanner: ScannerConfig{
			Port:        8080,
			Timeout:     time.Second,
			Interval:    10 * time.Second,
			Concurrency: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

// Load reads path over the built-in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Scanner.Port < 1 || c.Scanner.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("scanner.port %d out of range", c.Scanner.Port))
	}
	switch c.Client.Reconnect.Strategy {
	case StrategyNone, StrategyExponential, StrategyLinear, StrategyInfinite, "":
	default:
		err = multierr.Append(err, fmt.Errorf("client.reconnect.strategy %q unknown", c.Client.Reconnect.Strategy))
	}
	switch c.Log.Format {
	case "console", "json", "":
	default:
		err = multierr.Append(err, fmt.Errorf("log.format %q unknown", c.Log.Format))
	}
	if c.Server.Messages.RatePerSecond < 0 {
		err = multierr.Append(err, errors.New("server.messages.rate_per_second must not be negative"))
	}
	return err
}

// Authenticator combines every configured check, or returns nil when the
// relay is open.
func (a AuthConfig) Authenticator() delegate.Authenticator {
	var auths []delegate.Authenticator
	if len(a.Tokens) > 0 {
		t := delegate.NewTokenAuthenticator(a.Tokens...)
		if a.TokenParam != "" {
			t.Param = a.TokenParam
		}
		auths = append(auths, t)
	}
	if a.Header != "" {
		auths = append(auths, &delegate.HeaderAuthenticator{
			Name:            a.Header,
			Values:          a.HeaderValues,
			CaseInsensitive: a.HeaderCaseInsensitive,
		})
	}
	if len(a.AllowedIPs) > 0 {
		auths = append(auths, delegate.NewIPAuthenticator(a.AllowedIPs...))
	}

	switch len(auths) {
	case 0:
		return nil
	case 1:
		return auths[0]
	default:
		return delegate.All(auths...)
	}
}

// Validator builds the message checks, or returns nil when none is set.
func (m MessageConfig) Validator() delegate.MessageValidator {
	var vs []delegate.MessageValidator
	if m.MaxSize > 0 {
		vs = append(vs, delegate.MaxSize(m.MaxSize))
	}
	if m.RatePerSecond > 0 {
		vs = append(vs, delegate.RateLimit(m.RatePerSecond, m.Burst))
	}

	switch len(vs) {
	case 0:
		return nil
	case 1:
		return vs[0]
	default:
		return delegate.Chain(vs...)
	}
}

// ClientValidator returns the detail check, or nil when no key is required.
func (s ServerConfig) ClientValidator() delegate.ClientValidator {
	if len(s.RequiredDetails) == 0 {
		return nil
	}
	return delegate.RequireDetails(s.RequiredDetails...)
}

// Policy builds the reconnect policy. StrategyNone yields nil.
func (r ReconnectConfig) Policy() (session.ReconnectPolicy, error) {
	switch r.Strategy {
	case StrategyNone:
		return nil, nil
	case StrategyExponential, "":
		return &session.ExponentialBackoff{
			MaxAttempts:  r.MaxAttempts,
			InitialDelay: r.InitialDelay,
			MaxDelay:     r.MaxDelay,
			Multiplier:   r.Multiplier,
		}, nil
	case StrategyLinear:
		return &session.LinearBackoff{MaxAttempts: r.MaxAttempts, Interval: r.Interval}, nil
	case StrategyInfinite:
		return &session.InfiniteReconnect{Interval: r.Interval}, nil
	default:
		return nil, fmt.Errorf("unknown reconnect strategy %q", r.Strategy)
	}
}
