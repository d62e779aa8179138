package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// ErrUsage marks argument errors; the binary exits with status 2 on them.
var ErrUsage = errors.New("usage error")

// Commands understood by the tiscale binary.
const (
	CmdTest    = "test"
	CmdUpload  = "upload"
	CmdResults = "results"
	CmdTasks   = "tasks"
	CmdTask    = "task"
	CmdDelete  = "delete"
	CmdYara    = "yara"
	CmdHistory = "history"
	CmdDiff    = "diff"
)

var commands = []string{CmdTest, CmdUpload, CmdResults, CmdTasks, CmdTask, CmdDelete, CmdYara, CmdHistory, CmdDiff}

// CLIArgs are the parsed command-line arguments for one invocation.
type CLIArgs struct {
	// Global flags
	ConfigPath string
	EnvPath    string
	LogLevel   string

	Command string

	// upload
	File        string
	CustomToken string
	UserData    string
	CustomData  string
	Wait        bool

	// results / task
	TaskURL string
	TaskID  int
	Full    bool
	V13     bool

	// tasks / delete; -1 means unset
	Age    int
	ageSet bool

	// history / diff
	Limit int
	Base  string
	Head  string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// Usage describes the command line.
func Usage() string {
	return `usage: tiscale [-config file.toml] [-env file] [-log-level level] <command> [flags]

commands:
  test                                     check connectivity and credentials
  upload  -file P [-custom-token T] [-user-data JSON] [-custom-data JSON] [-wait] [-full]
  results -task URL [-full]                poll a task until processed
  tasks   [-age SECONDS] [-custom-token T] list processing tasks
  task    -id N [-full] [-v13]             show one task
  delete  -id N | -age SECONDS             delete one task or every task older than age
  yara                                     show the deployed YARA ruleset id
  history [-limit N]                       list journaled submissions
  diff    -base ID -head ID                diff two journaled reports`
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	out := &CLIArgs{RawArgs: args, Age: -1}

	global := newFlagSet("tiscale")
	global.StringVar(&out.ConfigPath, "config", "", "TOML configuration file")
	global.StringVar(&out.EnvPath, "env", "", "dotenv file with TISCALE_* variables")
	global.StringVar(&out.LogLevel, "log-level", "", "debug|info|warn|error")
	if err := global.Parse(args); err != nil {
		return nil, usageErr("%v", err)
	}

	rest := global.Args()
	if len(rest) == 0 {
		return nil, usageErr("missing command")
	}
	out.Command = strings.ToLower(rest[0])
	if !isCommand(out.Command) {
		return nil, usageErr("unknown command %q (want one of %s)", rest[0], strings.Join(commands, ", "))
	}

	fs := newFlagSet(out.Command)
	switch out.Command {
	case CmdUpload:
		fs.StringVar(&out.File, "file", "", "path of the sample to upload (required)")
		fs.StringVar(&out.CustomToken, "custom-token", "", "custom token attached to the task")
		fs.StringVar(&out.UserData, "user-data", "", "user_data JSON document")
		fs.StringVar(&out.CustomData, "custom-data", "", "custom_data JSON document")
		fs.BoolVar(&out.Wait, "wait", false, "poll for the report after uploading")
		fs.BoolVar(&out.Full, "full", false, "request the full report (with -wait)")
	case CmdResults:
		fs.StringVar(&out.TaskURL, "task", "", "task URL returned by upload (required)")
		fs.BoolVar(&out.Full, "full", false, "request the full report")
	case CmdTasks:
		fs.IntVar(&out.Age, "age", -1, "only tasks younger than this many seconds")
		fs.StringVar(&out.CustomToken, "custom-token", "", "only tasks carrying this custom token")
	case CmdTask:
		fs.IntVar(&out.TaskID, "id", 0, "task id (required)")
		fs.BoolVar(&out.Full, "full", false, "request the full report")
		fs.BoolVar(&out.V13, "v13", false, "request the v13 report format")
	case CmdDelete:
		fs.IntVar(&out.TaskID, "id", 0, "task id")
		fs.IntVar(&out.Age, "age", -1, "delete tasks older than this many seconds")
	case CmdHistory:
		fs.IntVar(&out.Limit, "limit", 20, "maximum entries to show (0 = all)")
	case CmdDiff:
		fs.StringVar(&out.Base, "base", "", "journal id of the base report (required)")
		fs.StringVar(&out.Head, "head", "", "journal id of the head report (required)")
	}
	if err := fs.Parse(rest[1:]); err != nil {
		return nil, usageErr("%s: %v", out.Command, err)
	}
	if fs.NArg() > 0 {
		return nil, usageErr("%s: unexpected arguments %v", out.Command, fs.Args())
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "age" {
			out.ageSet = true
		}
	})

	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *CLIArgs) validate() error {
	switch a.Command {
	case CmdUpload:
		if strings.TrimSpace(a.File) == "" {
			return usageErr("upload: missing required -file argument")
		}
		if a.Full && !a.Wait {
			return usageErr("upload: -full only applies together with -wait")
		}
	case CmdResults:
		if strings.TrimSpace(a.TaskURL) == "" {
			return usageErr("results: missing required -task argument")
		}
	case CmdTasks:
		if a.ageSet && a.Age < 0 {
			return usageErr("tasks: -age must not be negative")
		}
	case CmdTask:
		if a.TaskID <= 0 {
			return usageErr("task: -id must be a positive integer")
		}
	case CmdDelete:
		if a.ageSet && a.Age < 0 {
			return usageErr("delete: -age must not be negative")
		}
		hasID, hasAge := a.TaskID > 0, a.ageSet
		if hasID == hasAge {
			return usageErr("delete: exactly one of -id and -age is required")
		}
	case CmdHistory:
		if a.Limit < 0 {
			return usageErr("history: -limit must not be negative")
		}
	case CmdDiff:
		if a.Base == "" || a.Head == "" {
			return usageErr("diff: -base and -head are required")
		}
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)
	return fs
}

func isCommand(name string) bool {
	for _, c := range commands {
		if c == name {
			return true
		}
	}
	return false
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}
