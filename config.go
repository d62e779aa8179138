package tiscale

import (
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/tiscale/internal/logging"
)

// Logger is the structured logger accepted by the client.
type Logger = logging.Logger

// Field is a structured logging key/value pair.
type Field = logging.Field

const (
	DefaultWaitTime = 2 * time.Second
	DefaultRetries  = 10
	DefaultTimeout  = 60 * time.Second
)

// Config holds everything a TitaniumScale client needs. It is copied by New
// and never changes afterwards.
type Config struct {
	// Host is the worker base URL including the scheme, e.g. "https://tiscale.local".
	Host string

	// Token is sent as "Authorization: Token <Token>".
	Token string

	// Timeout bounds each individual request. Zero means DefaultTimeout.
	Timeout time.Duration

	// WaitTime is the pause between two GetResults polls. Zero polls back to back.
	WaitTime time.Duration

	// Retries is the number of extra polls after the first one.
	Retries int

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// ProxyURL routes requests through an explicit proxy.
	ProxyURL string

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// HTTPClient replaces the client built from Timeout, InsecureSkipVerify and ProxyURL.
	HTTPClient *http.Client

	// Logger receives request level diagnostics. Nil discards them.
	Logger Logger
}

// DefaultConfig returns a Config for host and token with the stock polling
// budget (2s wait, 10 retries) and TLS verification on.
func DefaultConfig(host, token string) Config {
	return Config{
		Host:     host,
		Token:    token,
		Timeout:  DefaultTimeout,
		WaitTime: DefaultWaitTime,
		Retries:  DefaultRetries,
	}
}

// Validate checks the configuration. All failures are *WrongInputError.
func (c Config) Validate() error {
	if _, err := validateHost(c.Host); err != nil {
		return err
	}
	if c.Retries < 0 {
		return wrongInput("retries parameter must be a non-negative integer.")
	}
	if c.WaitTime < 0 {
		return wrongInput("wait_time parameter must be a non-negative duration.")
	}
	if c.Timeout < 0 {
		return wrongInput("timeout parameter must be a non-negative duration.")
	}
	return nil
}

func validateHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		return "", wrongInput("host parameter must contain a protocol definition at the beginning.")
	}
	host = strings.TrimRight(host, "/")
	if host == "http:/" || host == "https:/" || host == "http:" || host == "https:" {
		return "", wrongInput("host parameter must contain a host name after the protocol.")
	}
	return host, nil
}
