package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/storefront/authguard"
	"gopkg.in/yaml.v3"
)

// Settings is the server configuration file. Zero values fall back to the
// engine defaults.
type Settings struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		Dev             bool          `yaml:"dev"`
	} `yaml:"server"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		URL           string        `yaml:"url"`
		PruneInterval time.Duration `yaml:"prune_interval"`
	} `yaml:"database"`

	Email struct {
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUser     string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
	} `yaml:"email"`

	SMS struct {
		AccountSID string `yaml:"account_sid"`
		AuthToken  string `yaml:"auth_token"`
		From       string `yaml:"from"`
	} `yaml:"sms"`

	RateLimit struct {
		Enabled   *bool                    `yaml:"enabled"`
		FailOpen  *bool                    `yaml:"fail_open"`
		Endpoints map[string]EndpointEntry `yaml:"endpoints"`
	} `yaml:"rate_limit"`

	OTP struct {
		Digits    int                     `yaml:"digits"`
		Retention time.Duration           `yaml:"retention"`
		Purposes  map[string]PurposeEntry `yaml:"purposes"`
	} `yaml:"otp"`

	Notification struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"notification"`

	Grant struct {
		Enabled bool          `yaml:"enabled"`
		Secret  string        `yaml:"secret"`
		TTL     time.Duration `yaml:"ttl"`
		Issuer  string        `yaml:"issuer"`
	} `yaml:"grant"`

	Audit struct {
		Enabled    bool `yaml:"enabled"`
		BufferSize int  `yaml:"buffer_size"`
	} `yaml:"audit"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Latency bool `yaml:"latency"`
	} `yaml:"metrics"`
}

// EndpointEntry overrides one row of the endpoint limit table.
type EndpointEntry struct {
	Path        string        `yaml:"path"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// PurposeEntry overrides one purpose policy.
type PurposeEntry struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Load reads the YAML file at path (skipped when empty), loads envFile into
// the process environment when it exists, and applies AUTHGUARD_* and
// TWILIO_* variables on top.
func Load(path, envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	s := &Settings{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := s.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	s.fillDefaults()
	return s, nil
}

func (s *Settings) fillDefaults() {
	if s.Server.Addr == "" {
		s.Server.Addr = ":8080"
	}
	if s.Server.ShutdownTimeout <= 0 {
		s.Server.ShutdownTimeout = 10 * time.Second
	}
	if s.Database.PruneInterval <= 0 {
		s.Database.PruneInterval = time.Hour
	}
	if s.Email.SMTPPort == 0 {
		s.Email.SMTPPort = 587
	}
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("AUTHGUARD_ADDR", &s.Server.Addr)
	str("AUTHGUARD_REDIS_ADDR", &s.Redis.Addr)
	str("AUTHGUARD_REDIS_PASSWORD", &s.Redis.Password)
	str("AUTHGUARD_DATABASE_URL", &s.Database.URL)
	str("AUTHGUARD_SMTP_HOST", &s.Email.SMTPHost)
	str("AUTHGUARD_SMTP_USER", &s.Email.SMTPUser)
	str("AUTHGUARD_SMTP_PASSWORD", &s.Email.SMTPPassword)
	str("AUTHGUARD_SMTP_FROM", &s.Email.FromEmail)
	str("TWILIO_ACCOUNT_SID", &s.SMS.AccountSID)
	str("TWILIO_AUTH_TOKEN", &s.SMS.AuthToken)
	str("TWILIO_FROM", &s.SMS.From)
	str("AUTHGUARD_GRANT_SECRET", &s.Grant.Secret)

	if v := strings.TrimSpace(getenv("AUTHGUARD_SMTP_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTHGUARD_SMTP_PORT: %w", err)
		}
		s.Email.SMTPPort = port
	}
	if v := strings.TrimSpace(getenv("AUTHGUARD_RATE_LIMIT_FAIL_OPEN")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTHGUARD_RATE_LIMIT_FAIL_OPEN: %w", err)
		}
		s.RateLimit.FailOpen = &b
	}
	if v := strings.TrimSpace(getenv("AUTHGUARD_DEV")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTHGUARD_DEV: %w", err)
		}
		s.Server.Dev = b
	}
	if s.Grant.Secret != "" {
		s.Grant.Enabled = true
	}
	return nil
}

// EngineConfig merges s over authguard.DefaultConfig and validates the result.
func (s *Settings) EngineConfig() (authguard.Config, error) {
	cfg := authguard.DefaultConfig()

	if s.RateLimit.Enabled != nil {
		cfg.RateLimit.Enabled = *s.RateLimit.Enabled
	}
	if s.RateLimit.FailOpen != nil {
		cfg.RateLimit.FailOpen = *s.RateLimit.FailOpen
	}
	for id, e := range s.RateLimit.Endpoints {
		row := cfg.RateLimit.Endpoints[id]
		if e.Path != "" {
			row.Path = e.Path
		}
		if e.MaxRequests != 0 {
			row.MaxRequests = e.MaxRequests
		}
		if e.Window != 0 {
			row.Window = e.Window
		}
		cfg.RateLimit.Endpoints[id] = row
	}

	if s.OTP.Digits != 0 {
		cfg.OTP.Digits = s.OTP.Digits
	}
	if s.OTP.Retention != 0 {
		cfg.OTP.Retention = s.OTP.Retention
	}
	for name, e := range s.OTP.Purposes {
		p := authguard.Purpose(name)
		policy, ok := cfg.OTP.Purposes[p]
		if !ok {
			return authguard.Config{}, fmt.Errorf("otp purpose %q is not supported", name)
		}
		if e.TTL != 0 {
			policy.TTL = e.TTL
		}
		if e.MaxAttempts != 0 {
			policy.MaxAttempts = e.MaxAttempts
		}
		cfg.OTP.Purposes[p] = policy
	}

	if s.Notification.Timeout != 0 {
		cfg.Notification.Timeout = s.Notification.Timeout
	}

	if s.Grant.Enabled {
		cfg.Grant.Enabled = true
		cfg.Grant.PrivateKey = []byte(s.Grant.Secret)
		if s.Grant.TTL != 0 {
			cfg.Grant.TTL = s.Grant.TTL
		}
		if s.Grant.Issuer != "" {
			cfg.Grant.Issuer = s.Grant.Issuer
		}
	}

	cfg.Audit.Enabled = s.Audit.Enabled
	if s.Audit.BufferSize != 0 {
		cfg.Audit.BufferSize = s.Audit.BufferSize
	}
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = s.Metrics.Enabled && s.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return authguard.Config{}, err
	}
	return cfg, nil
}
