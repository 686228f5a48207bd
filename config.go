package authguard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config defines engine behavior. Build clones it, so later mutation of the
// caller's copy has no effect.
type Config struct {
	RateLimit    RateLimitConfig
	OTP          OTPConfig
	Notification NotificationConfig
	Grant        GrantConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// EndpointLimit is one row of the protected endpoint table.
type EndpointLimit struct {
	// Path is the HTTP route the middleware maps to this endpoint id.
	Path        string
	MaxRequests int
	Window      time.Duration
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	Enabled     bool
	RedisPrefix string
	// FailOpen admits requests when the counter store is unreachable.
	FailOpen  bool
	Endpoints map[string]EndpointLimit
}

/*
====================================
OTP CONFIG
====================================
*/

// PurposePolicy bounds the lifetime and attempt budget of one purpose.
type PurposePolicy struct {
	TTL         time.Duration
	MaxAttempts int
}

// OTPConfig configures passcode issuance and verification.
type OTPConfig struct {
	RedisPrefix string
	Digits      int
	// Retention keeps terminal records answerable after expiry.
	Retention time.Duration
	Purposes  map[Purpose]PurposePolicy
}

// NotificationConfig bounds delivery.
type NotificationConfig struct {
	Timeout time.Duration
}

// GrantConfig configures signed verification grants minted after a
// successful verification.
type GrantConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// Endpoint identifiers of the default limit table.
const (
	EndpointLogin                = "login"
	EndpointRegister             = "register"
	EndpointOTPRequest           = "otp_request"
	EndpointOTPResend            = "otp_resend"
	EndpointOTPVerify            = "otp_verify"
	EndpointPasswordResetRequest = "password_reset_request"
)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Enabled:     true,
			RedisPrefix: "arl",
			FailOpen:    true,
			Endpoints: map[string]EndpointLimit{
				EndpointLogin:                {Path: "/v1/auth/login", MaxRequests: 5, Window: 15 * time.Minute},
				EndpointRegister:             {Path: "/v1/auth/register", MaxRequests: 5, Window: time.Hour},
				EndpointOTPRequest:           {Path: "/v1/otp/issue", MaxRequests: 5, Window: 10 * time.Minute},
				EndpointOTPResend:            {Path: "/v1/otp/resend", MaxRequests: 3, Window: 10 * time.Minute},
				EndpointOTPVerify:            {Path: "/v1/otp/verify", MaxRequests: 10, Window: 10 * time.Minute},
				EndpointPasswordResetRequest: {Path: "/v1/auth/password-reset", MaxRequests: 3, Window: time.Hour},
			},
		},
		OTP: OTPConfig{
			RedisPrefix: "aotp",
			Digits:      6,
			Retention:   24 * time.Hour,
			Purposes: map[Purpose]PurposePolicy{
				PurposeEmailVerification: {TTL: 10 * time.Minute, MaxAttempts: 5},
				PurposeSMSVerification:   {TTL: 5 * time.Minute, MaxAttempts: 5},
				PurposePasswordReset:     {TTL: 15 * time.Minute, MaxAttempts: 5},
				PurposeLoginVerification: {TTL: 5 * time.Minute, MaxAttempts: 5},
			},
		},
		Notification: NotificationConfig{
			Timeout: 5 * time.Second,
		},
		Grant: GrantConfig{
			Enabled:       false,
			TTL:           10 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "authguard",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg

	if cfg.RateLimit.Endpoints != nil {
		out.RateLimit.Endpoints = make(map[string]EndpointLimit, len(cfg.RateLimit.Endpoints))
		for id, limit := range cfg.RateLimit.Endpoints {
			out.RateLimit.Endpoints[id] = limit
		}
	}
	if cfg.OTP.Purposes != nil {
		out.OTP.Purposes = make(map[Purpose]PurposePolicy, len(cfg.OTP.Purposes))
		for p, policy := range cfg.OTP.Purposes {
			out.OTP.Purposes[p] = policy
		}
	}
	out.Grant.PrivateKey = cloneBytes(cfg.Grant.PrivateKey)
	out.Grant.PublicKey = cloneBytes(cfg.Grant.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateOTP(); err != nil {
		return err
	}

	if c.Notification.Timeout <= 0 {
		return errors.New("Notification Timeout must be > 0")
	}
	if c.Notification.Timeout > time.Minute {
		return errors.New("Notification Timeout must be <= 1m")
	}

	if err := c.validateGrant(); err != nil {
		return err
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if strings.TrimSpace(c.RateLimit.RedisPrefix) == "" {
		return errors.New("RateLimit RedisPrefix must not be empty")
	}
	if len(c.RateLimit.Endpoints) == 0 {
		return errors.New("RateLimit Endpoints must not be empty when rate limiting is enabled")
	}

	paths := make(map[string]string, len(c.RateLimit.Endpoints))
	for id, limit := range c.RateLimit.Endpoints {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, ": ") {
			return fmt.Errorf("RateLimit endpoint id %q is invalid", id)
		}
		if limit.MaxRequests <= 0 {
			return fmt.Errorf("RateLimit endpoint %q MaxRequests must be > 0", id)
		}
		if limit.Window < time.Second {
			return fmt.Errorf("RateLimit endpoint %q Window must be >= 1s", id)
		}
		if limit.Path == "" {
			continue
		}
		if !strings.HasPrefix(limit.Path, "/") {
			return fmt.Errorf("RateLimit endpoint %q Path must start with /", id)
		}
		if other, dup := paths[limit.Path]; dup {
			return fmt.Errorf("RateLimit endpoints %q and %q share path %s", other, id, limit.Path)
		}
		paths[limit.Path] = id
	}
	return nil
}

func (c *Config) validateOTP() error {
	if strings.TrimSpace(c.OTP.RedisPrefix) == "" {
		return errors.New("OTP RedisPrefix must not be empty")
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.Retention < 0 {
		return errors.New("OTP Retention must be >= 0")
	}

	for p := range c.OTP.Purposes {
		if !p.Valid() {
			return fmt.Errorf("OTP purpose %q is not supported", p)
		}
	}
	for _, p := range []Purpose{
		PurposeEmailVerification,
		PurposeSMSVerification,
		PurposePasswordReset,
		PurposeLoginVerification,
	} {
		policy, ok := c.OTP.Purposes[p]
		if !ok {
			return fmt.Errorf("OTP purpose %q has no policy", p)
		}
		if policy.TTL <= 0 {
			return fmt.Errorf("OTP purpose %q TTL must be > 0", p)
		}
		if policy.TTL > 24*time.Hour {
			return fmt.Errorf("OTP purpose %q TTL must be <= 24h", p)
		}
		if policy.MaxAttempts <= 0 || policy.MaxAttempts > 100 {
			return fmt.Errorf("OTP purpose %q MaxAttempts must be between 1 and 100", p)
		}
	}
	return nil
}

func (c *Config) validateGrant() error {
	if !c.Grant.Enabled {
		return nil
	}
	if c.Grant.TTL <= 0 {
		return errors.New("Grant TTL must be > 0")
	}
	switch c.Grant.SigningMethod {
	case "hs256":
		if len(c.Grant.PrivateKey) < 32 {
			return errors.New("hs256 grant key must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.Grant.PrivateKey) == 0 || len(c.Grant.PublicKey) == 0 {
			return errors.New("ed25519 grants require PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Grant signing method")
	}
	return nil
}
