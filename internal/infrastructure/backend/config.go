package backend

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// VerificationMode controls how response signature verdicts are applied
type VerificationMode string

const (
	// VerificationDisabled never consults the verifier; every response is NotRequested
	VerificationDisabled VerificationMode = "disabled"
	// VerificationInformational tags responses with the verdict but never rejects them
	VerificationInformational VerificationMode = "informational"
	// VerificationEnforced rejects responses that fail verification
	VerificationEnforced VerificationMode = "enforced"
)

// ParseVerificationMode maps a config value onto a VerificationMode
func ParseVerificationMode(s string) (VerificationMode, error) {
	switch m := VerificationMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return VerificationDisabled, nil
	case VerificationDisabled, VerificationInformational, VerificationEnforced:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVerificationMode, s)
}

// DefaultVerificationHeader carries the verdict of an upstream signature verifier
const DefaultVerificationHeader = "X-Signature-Verification"

// Errors for configuration validation
var (
	ErrMissingBaseURL          = errors.New("backend: missing base URL")
	ErrInvalidBaseURL          = errors.New("backend: invalid base URL")
	ErrMissingAPIKey           = errors.New("backend: missing API key")
	ErrInvalidVerificationMode = errors.New("backend: invalid verification mode")
)

// Config contains configuration for the entitlement backend client
type Config struct {
	// BaseURL is the scheme and host of the backend, e.g. https://api.example.com
	BaseURL string
	// APIKey is sent as a bearer token
	APIKey string
	// Timeout bounds every request
	Timeout time.Duration
	// VerificationMode decides how signature verdicts are applied
	VerificationMode VerificationMode
	// VerificationHeader is read by the default HeaderVerifier
	VerificationHeader string
	// UserAgent is sent on every request
	UserAgent string
}

// DefaultConfig returns a config with sensible timeouts and verification disabled
func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Second,
		VerificationMode:   VerificationDisabled,
		VerificationHeader: DefaultVerificationHeader,
		UserAgent:          "entitlesync-engine",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if _, err := ParseVerificationMode(string(c.VerificationMode)); err != nil {
		return err
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.VerificationMode == "" {
		c.VerificationMode = def.VerificationMode
	}
	if c.VerificationHeader == "" {
		c.VerificationHeader = def.VerificationHeader
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}
