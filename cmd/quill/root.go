package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"quill/internal/config"
	"quill/internal/di"
	"quill/internal/shared/logging"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// flagBindings maps config keys to the flags that may override them. Only
// flags registered on the running command are bound.
var flagBindings = map[string]string{
	"logging.level":              "log-level",
	"store.path":                 "store",
	"server.addr":                "addr",
	"pipeline.micro.intro":       "micro-intro",
	"pipeline.micro.body":        "micro-body",
	"pipeline.micro.conclusion":  "micro-conclusion",
	"pipeline.refinement_passes": "passes",
	"pipeline.finishing":         "finishing",
	"pipeline.task_timeout":      "task-timeout",
	"backends.primary.provider":  "provider",
	"backends.entropy.provider":  "entropy-provider",
	"detect.provider":            "detect",
}

// CLI holds state shared by all commands.
type CLI struct {
	configPath string
	callerID   string
	cfg        config.Config
	// isTTY reports whether prompts and the progress view may be used.
	isTTY func() bool
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return min(width-4, 120)
		}
	}
	return 80
}

func newRootCommand() *cobra.Command {
	return newRootCommandFor(&CLI{isTTY: isTTY})
}

func newRootCommandFor(cli *CLI) *cobra.Command {
	root := &cobra.Command{
		Use:   "quill",
		Short: "Multi-stage content humanizer pipeline",
		Long: bold("quill") + ` runs a topic through research, drafting, persona micro
rewrites and whole-draft finishing stages, one generation call per stage.

Examples:
  quill run --topic "Coffee"          # run in the terminal
  quill serve --addr :8080            # HTTP API with websocket progress
  quill personas generate --url URL   # suggest personas from an article
  quill history list                  # past successful runs`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cli.configPath, "config", "c", "", "config file (default ./quill.yaml or ~/.quill/quill.yaml)")
	flags.StringVar(&cli.callerID, "caller", defaultCaller(), "caller id owning runs and personas")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("store", "", "sqlite database path")

	root.AddCommand(
		newRunCommand(cli),
		newServeCommand(cli),
		newPersonasCommand(cli),
		newHistoryCommand(cli),
	)
	return root
}

func defaultCaller() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "local"
}

func (c *CLI) loadConfig(cmd *cobra.Command) error {
	binding := make(map[string]string)
	for key, name := range flagBindings {
		if cmd.Flags().Lookup(name) != nil {
			binding[key] = name
		}
	}
	opts := []config.Option{config.WithFlags(cmd.Flags(), binding)}
	if c.configPath != "" {
		opts = append(opts, config.WithConfigPath(c.configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// container configures logging and wires services. quiet raises the log
// level so log lines do not tear the progress view.
func (c *CLI) container(ctx context.Context, quiet bool) (*di.Container, error) {
	opts := logging.Options{
		Level:  c.cfg.Logging.Level,
		Format: c.cfg.Logging.Format,
		Output: c.cfg.Logging.Output,
	}
	if quiet && (opts.Output == "" || opts.Output == "stderr" || opts.Output == "stdout") {
		opts.Level = "error"
	}
	if err := logging.Configure(opts); err != nil {
		return nil, err
	}
	return di.BuildContainer(ctx, c.cfg)
}

func cleanup(c *di.Container) {
	timeout := c.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Cleanup(ctx); err != nil {
		logging.NewComponentLogger("CLI").Warn("cleanup: %v", err)
	}
}
