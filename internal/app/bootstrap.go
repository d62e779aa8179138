package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/raysh454/tiscale"
	"github.com/raysh454/tiscale/internal/cli"
	"github.com/raysh454/tiscale/internal/journal"
	"github.com/raysh454/tiscale/internal/logging"
)

// Exit statuses of the tiscale binary.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitNotReady = 3
)

// ExitCode maps a Run error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, cli.ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrNotReady), errors.Is(err, tiscale.ErrResultsNotReady):
		return ExitNotReady
	default:
		return ExitError
	}
}

// Bootstrap loads configuration for args and builds the logger, client and
// journal the command needs. Logs go to logOut, command output to out.
func Bootstrap(args *cli.CLIArgs, out, logOut io.Writer) (*Application, error) {
	cfg, err := Load(args.ConfigPath, args.EnvPath)
	if err != nil {
		return nil, err
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
	logger := logging.NewWriterLogger(logOut, "tiscale", logging.ParseLevel(cfg.Log.Level))

	var client Client
	if NeedsClient(args.Command) {
		ts, err := tiscale.New(cfg.ClientConfig(logger))
		if err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
		client = ts
	}

	var j *journal.Journal
	if !cfg.Journal.Disabled && cfg.Journal.Path != "" {
		j, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			if client != nil {
				client.Close()
			}
			return nil, err
		}
	}

	return NewApplication(cfg, args, logger, client, j, out), nil
}
