package mockworker

import (
	"golang.org/x/time/rate"

	"github.com/raysh454/tiscale/internal/logging"
)

// Config holds configuration for the mock worker.
type Config struct {
	// Port is used by HTTPServer; tests mount the Worker on httptest instead.
	Port int

	// Token, when set, must arrive as "Authorization: Token <Token>".
	Token string

	// PollsUntilDone is how many status polls answer "{}" before a task
	// reports as processed.
	PollsUntilDone int

	// YaraID is returned by the yara endpoint.
	YaraID string

	// RateLimit caps accepted requests per second; excess requests get 429.
	// Zero disables limiting.
	RateLimit rate.Limit

	// Burst is the number of requests allowed at once under RateLimit.
	// Values below 1 mean 1.
	Burst int

	Logger logging.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           9999,
		PollsUntilDone: 2,
		YaraID:         "yara-ruleset-0001",
	}
}
