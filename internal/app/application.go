package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/raysh454/tiscale"
	"github.com/raysh454/tiscale/internal/cli"
	"github.com/raysh454/tiscale/internal/journal"
	"github.com/raysh454/tiscale/internal/logging"
)

// ErrNotReady is returned when a task was still being processed after the
// whole polling budget. The binary exits with status 3 on it.
var ErrNotReady = errors.New("results not ready yet, try again later")

// Client is the subset of the TitaniumScale client the commands use.
// *tiscale.TitaniumScale implements it; tests may provide a stub.
type Client interface {
	Host() string
	TestConnection(ctx context.Context) (*tiscale.Response, error)
	UploadSampleFromPath(ctx context.Context, filePath string, opts tiscale.UploadOptions) (*tiscale.Response, error)
	GetResults(ctx context.Context, taskURL string, fullReport bool) (*tiscale.Response, error)
	ListProcessingTasks(ctx context.Context, age int, customToken string) (*tiscale.Response, error)
	GetProcessingTaskInfo(ctx context.Context, taskID int, full, v13 bool) (*tiscale.Response, error)
	DeleteProcessingTask(ctx context.Context, taskID int) (*tiscale.Response, error)
	DeleteMultipleTasks(ctx context.Context, age int) (*tiscale.Response, error)
	GetYaraID(ctx context.Context) (*tiscale.Response, error)
	Close() error
}

// Application is the runtime state of one tiscale invocation.
// Client is nil for commands that only read the journal, and Journal is nil
// when journaling is disabled.
type Application struct {
	Config *Config
	Args   *cli.CLIArgs

	Logger  logging.Logger
	Client  Client
	Journal *journal.Journal

	// Out receives command output.
	Out io.Writer
}

// NewApplication constructs an Application from already-built parts.
func NewApplication(cfg *Config, args *cli.CLIArgs, logger logging.Logger, client Client, j *journal.Journal, out io.Writer) *Application {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Application{
		Config:  cfg,
		Args:    args,
		Logger:  logger.With(logging.Field{Key: "component", Value: "app"}),
		Client:  client,
		Journal: j,
		Out:     out,
	}
}

// NeedsClient reports whether command talks to the worker.
func NeedsClient(command string) bool {
	return command != cli.CmdHistory && command != cli.CmdDiff
}

// Run executes the parsed command.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.Args == nil {
		return errors.New("application is not initialised")
	}
	if NeedsClient(a.Args.Command) && a.Client == nil {
		return fmt.Errorf("%s: no worker client configured", a.Args.Command)
	}
	a.Logger.Debug("running command", logging.Field{Key: "command", Value: a.Args.Command})

	switch a.Args.Command {
	case cli.CmdTest:
		return a.print(a.Client.TestConnection(ctx))
	case cli.CmdUpload:
		return a.upload(ctx)
	case cli.CmdResults:
		return a.results(ctx, a.Args.TaskURL, a.Args.Full)
	case cli.CmdTasks:
		// -1 means -age was not given; ParseArgs rejects explicit negatives.
		age := a.Args.Age
		if age < 0 {
			age = 0
		}
		return a.print(a.Client.ListProcessingTasks(ctx, age, a.Args.CustomToken))
	case cli.CmdTask:
		return a.print(a.Client.GetProcessingTaskInfo(ctx, a.Args.TaskID, a.Args.Full, a.Args.V13))
	case cli.CmdDelete:
		if a.Args.TaskID > 0 {
			return a.print(a.Client.DeleteProcessingTask(ctx, a.Args.TaskID))
		}
		return a.print(a.Client.DeleteMultipleTasks(ctx, a.Args.Age))
	case cli.CmdYara:
		return a.print(a.Client.GetYaraID(ctx))
	case cli.CmdHistory:
		return a.history(ctx)
	case cli.CmdDiff:
		return a.diff(ctx)
	}
	return fmt.Errorf("%w: unknown command %q", cli.ErrUsage, a.Args.Command)
}

// Shutdown releases the client and the journal.
func (a *Application) Shutdown() error {
	if a == nil {
		return errors.New("application is nil")
	}
	var errs []error
	if a.Client != nil {
		errs = append(errs, a.Client.Close())
	}
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close())
	}
	return errors.Join(errs...)
}

func (a *Application) upload(ctx context.Context) error {
	opts := tiscale.UploadOptions{
		CustomToken: a.Args.CustomToken,
		UserData:    a.Args.UserData,
		CustomData:  a.Args.CustomData,
	}
	resp, err := a.Client.UploadSampleFromPath(ctx, a.Args.File, opts)
	if err != nil {
		return err
	}
	taskURL, err := resp.TaskURL()
	if err != nil {
		return err
	}
	a.recordSubmission(ctx, taskURL)

	if !a.Args.Wait {
		return a.print(resp, nil)
	}
	return a.results(ctx, taskURL, a.Args.Full)
}

func (a *Application) results(ctx context.Context, taskURL string, full bool) error {
	resp, err := a.Client.GetResults(ctx, taskURL, full)
	if err != nil {
		return err
	}
	var report []byte
	if resp != nil {
		report = resp.Body
	}
	if a.Journal != nil {
		if _, err := a.Journal.RecordReport(ctx, taskURL, report); err != nil {
			a.Logger.Warn("failed to journal report",
				logging.Field{Key: "task_url", Value: taskURL},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if resp == nil {
		fmt.Fprintf(a.Out, "task %s is not processed yet\n", taskURL)
		return ErrNotReady
	}
	return a.print(resp, nil)
}

// recordSubmission journals an upload. Journal failures are logged and do not
// fail the command since the upload itself succeeded.
func (a *Application) recordSubmission(ctx context.Context, taskURL string) {
	if a.Journal == nil {
		return
	}
	sub := journal.Submission{
		Host:        a.Client.Host(),
		FileName:    filepath.Base(a.Args.File),
		TaskURL:     taskURL,
		CustomToken: a.Args.CustomToken,
	}
	if f, err := os.Open(a.Args.File); err == nil {
		sub.SHA256, sub.Size, err = journal.Fingerprint(f)
		f.Close()
		if err != nil {
			a.Logger.Warn("failed to fingerprint sample", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if _, err := a.Journal.RecordSubmission(ctx, sub); err != nil {
		a.Logger.Warn("failed to journal submission",
			logging.Field{Key: "task_url", Value: taskURL},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

func (a *Application) history(ctx context.Context) error {
	if a.Journal == nil {
		return errors.New("history: journal is disabled")
	}
	entries, err := a.Journal.List(ctx, a.Args.Limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.Out)
	for _, e := range entries {
		e.Report = nil
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) diff(ctx context.Context) error {
	if a.Journal == nil {
		return errors.New("diff: journal is disabled")
	}
	d, err := a.Journal.DiffReports(ctx, a.Args.Base, a.Args.Head)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func (a *Application) print(resp *tiscale.Response, err error) error {
	if err != nil {
		return err
	}
	text := resp.Text()
	if text == "" {
		return nil
	}
	if text[len(text)-1] != '\n' {
		text += "\n"
	}
	_, err = io.WriteString(a.Out, text)
	return err
}
