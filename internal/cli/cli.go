package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/vk/psmgrid/internal/app"
	"github.com/vk/psmgrid/internal/engine"
	"github.com/vk/psmgrid/internal/manifest"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// EnvFileVar names the variable that points at a dotenv file. It defaults
// to .env in the working directory.
const EnvFileVar = "PSMGRID_ENV_FILE"

// Run loads the dotenv file, then parses args and runs the selected command.
func Run(ctx context.Context, outW io.Writer, args []string) error {
	if err := loadEnvFile(os.Getenv(EnvFileVar)); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return NewCommand(outW).Run(ctx, append([]string{"psmgrid"}, args...))
}

func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// NewCommand builds the psmgrid command tree.
func NewCommand(outW io.Writer) *cli.Command {
	root := &cli.Command{
		Name:  "psmgrid",
		Usage: "Run peptide search engines over a spectrum file and score their results.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "HCL configuration file or directory (repeatable)",
				Sources: cli.EnvVars("PSMGRID_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars("PSMGRID_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text or json",
				Value:   "text",
				Sources: cli.EnvVars("PSMGRID_LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   `JSON run log path; "-" disables it`,
				Sources: cli.EnvVars("PSMGRID_LOG_FILE"),
			},
			&cli.IntFlag{
				Name:    "healthcheck-port",
				Usage:   "port for the health and status server, 0 disables it",
				Sources: cli.EnvVars("PSMGRID_HEALTHCHECK_PORT"),
			},
		},
		Writer: outW,
		Commands: []*cli.Command{
			searchCommand(outW),
			scoreCommand(outW),
			runCommand(outW),
			runsCommand(outW),
		},
	}
	setUsageErrors(root)
	return root
}

func setUsageErrors(cmd *cli.Command) {
	cmd.OnUsageError = func(_ context.Context, _ *cli.Command, err error, _ bool) error {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	cmd.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	for _, sub := range cmd.Commands {
		setUsageErrors(sub)
	}
}

func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "spectrum file", Required: true},
		&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "logical database name", Required: true},
		&cli.StringFlag{Name: "enzyme", Aliases: []string{"e"}, Usage: "logical enzyme name", Value: "trypsin"},
		&cli.StringSliceFlag{Name: "engines", Usage: "engines to run (comma separated or repeated)", Value: []string{"omssa", "tide", "tandem"}},
		&cli.IntFlag{Name: "index", Usage: "run index appended to output names when positive"},
	}
}

func searchCommand(outW io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "run the selected engines against target and decoy databases",
		Flags: inputFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			in, sel, err := parseInput(cmd)
			if err != nil {
				return err
			}
			return withApp(ctx, cmd, outW, func(a *app.App) error {
				res, err := a.Search(ctx, in, sel)
				if res != nil {
					printManifest(outW, res.RunID, res.Manifest)
				}
				return err
			})
		},
	}
}

func scoreCommand(outW io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "convert and score the result pairs of recorded runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "logical database name", Required: true},
			&cli.StringSliceFlag{Name: "run", Usage: "recorded run id (repeatable)", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, outW, func(a *app.App) error {
				results, err := a.Score(ctx, cmd.String("database"), cmd.StringSlice("run"))
				printResults(outW, results)
				return err
			})
		},
	}
}

func runCommand(outW io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "search and then score in one go",
		Flags: inputFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			in, sel, err := parseInput(cmd)
			if err != nil {
				return err
			}
			return withApp(ctx, cmd, outW, func(a *app.App) error {
				res, results, err := a.Run(ctx, in, sel)
				if res != nil {
					printManifest(outW, res.RunID, res.Manifest)
				}
				printResults(outW, results)
				return err
			})
		},
	}
}

func runsCommand(outW io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "list recorded runs, most recent first",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, outW, func(a *app.App) error {
				runs, err := a.Runs(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(outW, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tINPUT\tDATABASE\tINDEX\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						r.ID, r.Status, r.InputFile, r.Database, r.Index, r.StartedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func parseInput(cmd *cli.Command) (engine.Input, engine.Selection, error) {
	in := engine.Input{
		File:     cmd.String("input"),
		Database: cmd.String("database"),
		Enzyme:   cmd.String("enzyme"),
		Run:      cmd.Int("index"),
	}
	if err := in.Validate(); err != nil {
		return in, nil, &ExitError{Code: 2, Message: err.Error()}
	}
	sel, err := engine.ParseSelection(cmd.StringSlice("engines")...)
	if err != nil {
		return in, nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return in, sel, nil
}

// withApp builds the application from the global flags, hands it to fn and
// closes it afterwards.
func withApp(ctx context.Context, cmd *cli.Command, outW io.Writer, fn func(*app.App) error) error {
	cfg, err := app.NewConfig(app.Config{
		ConfigPaths:     cmd.StringSlice("config"),
		LogFormat:       strings.ToLower(cmd.String("log-format")),
		LogLevel:        strings.ToLower(cmd.String("log-level")),
		LogFile:         cmd.String("log-file"),
		HealthcheckPort: cmd.Int("healthcheck-port"),
	})
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("CLI parameters validated.", "command", cmd.Name)

	a, err := app.New(ctx, outW, cfg)
	if err != nil {
		return err
	}
	return errors.Join(fn(a), a.Close())
}

func printManifest(outW io.Writer, runID string, m *manifest.Manifest) {
	fmt.Fprintf(outW, "run %s\n", runID)
	for _, p := range m.Pairs() {
		fmt.Fprintf(outW, "%s\t%s\t%s\n", p.Engine, p.Target, p.Decoy)
	}
}

func printResults(outW io.Writer, results []string) {
	for _, r := range results {
		fmt.Fprintln(outW, r)
	}
}
