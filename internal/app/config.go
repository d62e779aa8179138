package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/raysh454/tiscale"
	"github.com/raysh454/tiscale/internal/logging"
)

// Environment variables that override the configuration file.
const (
	EnvHost      = "TISCALE_HOST"
	EnvToken     = "TISCALE_TOKEN"
	EnvTimeout   = "TISCALE_TIMEOUT"
	EnvWaitTime  = "TISCALE_WAIT_TIME"
	EnvRetries   = "TISCALE_RETRIES"
	EnvInsecure  = "TISCALE_INSECURE"
	EnvProxyURL  = "TISCALE_PROXY_URL"
	EnvJournal   = "TISCALE_JOURNAL"
	EnvNoJournal = "TISCALE_NO_JOURNAL"
	EnvLogLevel  = "TISCALE_LOG_LEVEL"
)

// WorkerConfig describes the TitaniumScale worker to talk to.
type WorkerConfig struct {
	Host               string        `toml:"host"`
	Token              string        `toml:"token"`
	Timeout            time.Duration `toml:"timeout"`
	WaitTime           time.Duration `toml:"wait_time"`
	Retries            int           `toml:"retries"`
	InsecureSkipVerify bool          `toml:"insecure_skip_verify"`
	ProxyURL           string        `toml:"proxy_url"`
}

// JournalConfig controls the local submission journal.
type JournalConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Config is the runtime configuration of the tiscale binary.
type Config struct {
	Worker  WorkerConfig  `toml:"worker"`
	Journal JournalConfig `toml:"journal"`
	Log     LogConfig     `toml:"log"`
}

// DefaultConfig returns a Config populated with the stock client defaults.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			Timeout:  tiscale.DefaultTimeout,
			WaitTime: tiscale.DefaultWaitTime,
			Retries:  tiscale.DefaultRetries,
		},
		Journal: JournalConfig{
			Path: "~/.config/tiscale/journal.db",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Load builds a Config from defaults, the TOML file at configPath and the
// environment. Values from the dotenv file at envPath only apply to variables
// the process environment does not already set. Empty paths are skipped.
func Load(configPath, envPath string) (*Config, error) {
	return load(configPath, envPath, os.LookupEnv)
}

func load(configPath, envPath string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		p, err := expandPath(configPath)
		if err != nil {
			return nil, err
		}
		md, err := toml.DecodeFile(p, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("config %s: unknown keys %s", configPath, strings.Join(keys, ", "))
		}
	}

	if envPath != "" {
		p, err := expandPath(envPath)
		if err != nil {
			return nil, err
		}
		dotenv, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envPath, err)
		}
		processEnv := lookup
		lookup = func(key string) (string, bool) {
			if v, ok := processEnv(key); ok {
				return v, true
			}
			v, ok := dotenv[key]
			return v, ok
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.Journal.Path != "" && cfg.Journal.Path != ":memory:" {
		p, err := expandPath(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		cfg.Journal.Path = p
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(EnvHost, &c.Worker.Host)
	str(EnvToken, &c.Worker.Token)
	dur(EnvTimeout, &c.Worker.Timeout)
	dur(EnvWaitTime, &c.Worker.WaitTime)
	if v, ok := lookup(EnvRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRetries, err))
		} else {
			c.Worker.Retries = n
		}
	}
	boolean(EnvInsecure, &c.Worker.InsecureSkipVerify)
	str(EnvProxyURL, &c.Worker.ProxyURL)
	str(EnvJournal, &c.Journal.Path)
	boolean(EnvNoJournal, &c.Journal.Disabled)
	str(EnvLogLevel, &c.Log.Level)

	return errors.Join(errs...)
}

// ClientConfig converts the worker section into a client configuration.
func (c *Config) ClientConfig(logger logging.Logger) tiscale.Config {
	return tiscale.Config{
		Host:               c.Worker.Host,
		Token:              c.Worker.Token,
		Timeout:            c.Worker.Timeout,
		WaitTime:           c.Worker.WaitTime,
		Retries:            c.Worker.Retries,
		InsecureSkipVerify: c.Worker.InsecureSkipVerify,
		ProxyURL:           c.Worker.ProxyURL,
		Logger:             logger,
	}
}

func expandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
