package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/pipeline"
	"quill/internal/presentation"
	"quill/internal/tui"
)

const (
	defaultResearcherGoal      = "Find and summarize useful content for the given topic."
	defaultResearcherBackstory = "You're great at finding relevant sources."
	defaultWriterGoal          = "Write a detailed, SEO-friendly blog post using the research."
	defaultWriterBackstory     = "You're skilled at clarity and engagement."
	defaultEditorGoal          = "Polish and refine the blog content for tone, clarity, and grammar."
	defaultEditorBackstory     = "You ensure it reads naturally and maintains tone."
)

type runOptions struct {
	params      app.Params
	noTUI       bool
	plain       bool
	showDiffs   bool
	interactive bool
}

func newRunCommand(cli *CLI) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [topic]",
		Short: "Run the pipeline for one topic",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.params.Topic = args[0]
			}
			return cli.run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.params.Topic, "topic", "t", "", "topic to write about")
	f.StringVar(&opts.params.ResearcherGoal, "researcher-goal", "", "researcher goal (default: last run or built-in)")
	f.StringVar(&opts.params.ResearcherBackstory, "researcher-backstory", "", "researcher backstory")
	f.StringVar(&opts.params.WriterGoal, "writer-goal", "", "writer goal")
	f.StringVar(&opts.params.WriterBackstory, "writer-backstory", "", "writer backstory")
	f.StringVar(&opts.params.EditorGoal, "editor-goal", "", "editor goal")
	f.StringVar(&opts.params.EditorBackstory, "editor-backstory", "", "editor backstory")
	f.Int("micro-intro", 2, "micro tasks for the intro")
	f.Int("micro-body", 4, "micro tasks for the body")
	f.Int("micro-conclusion", 2, "micro tasks for the conclusion")
	f.Int("passes", 1, "refinement passes per micro task")
	f.StringSlice("finishing", nil, "finishing stages in order")
	f.Duration("task-timeout", 0, "per-task timeout, 0 disables")
	f.String("provider", "openai", "primary backend: openai, gemini, mock")
	f.String("entropy-provider", "openai", "entropy backend: openai, gemini, mock")
	f.String("detect", "none", "detector: none, zerogpt")
	f.BoolVar(&opts.noTUI, "no-tui", false, "print plain progress lines")
	f.BoolVar(&opts.plain, "plain", false, "disable colors and markdown styling")
	f.BoolVar(&opts.showDiffs, "diffs", false, "print each stage's inline diff")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for the topic and goals")
	return cmd
}

func (c *CLI) run(cmd *cobra.Command, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	tty := c.isTTY()
	useTUI := tty && !opts.noTUI
	if opts.plain {
		color.NoColor = true
	}

	container, err := c.container(ctx, useTUI)
	if err != nil {
		return err
	}
	defer cleanup(container)

	p := opts.params
	p.CallerID = c.callerID
	c.fillGoals(ctx, container.Runs, &p)
	if tty && (opts.interactive || strings.TrimSpace(p.Topic) == "") {
		if err := promptParams(&p); err != nil {
			return err
		}
	}

	runID, err := container.Runs.StartRun(ctx, p)
	if err != nil {
		return err
	}
	updates, err := container.Runs.Watch(ctx, p.CallerID, runID)
	if err != nil {
		return err
	}

	if useTUI {
		model, err := tui.Run(ctx, p.Topic, updates)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if model.Cancelled() {
			_ = container.Runs.Cancel(p.CallerID, runID)
		}
	} else {
		printProgress(out, updates)
	}

	if ctx.Err() != nil {
		_ = container.Runs.Cancel(p.CallerID, runID)
	}
	if err := waitDone(container.Runs, p.CallerID, runID); err != nil {
		return err
	}

	outcome, err := container.Runs.Result(context.WithoutCancel(ctx), p.CallerID, runID)
	if err != nil {
		return err
	}
	reportOpts := presentation.ReportOptions{Color: !color.NoColor, ShowDiffs: opts.showDiffs}
	if renderer, err := presentation.NewMarkdownRenderer(terminalWidth(out), opts.plain || !tty); err == nil {
		reportOpts.Markdown = renderer
	}
	if err := presentation.Report(out, outcome, reportOpts); err != nil {
		return err
	}
	if !outcome.Succeeded() {
		return fmt.Errorf("run %s %s", runID, outcome.Status)
	}
	return nil
}

// fillGoals prefills unset goals from the caller's latest run, falling back
// to the built-in defaults.
func (c *CLI) fillGoals(ctx context.Context, runs *app.Service, p *app.Params) {
	last := app.Params{
		ResearcherGoal:      defaultResearcherGoal,
		ResearcherBackstory: defaultResearcherBackstory,
		WriterGoal:          defaultWriterGoal,
		WriterBackstory:     defaultWriterBackstory,
		EditorGoal:          defaultEditorGoal,
		EditorBackstory:     defaultEditorBackstory,
	}
	if records, err := runs.History(ctx, p.CallerID, 1); err == nil && len(records) == 1 {
		r := records[0]
		fill(&last.ResearcherGoal, r.ResearcherGoal)
		fill(&last.ResearcherBackstory, r.ResearcherBackstory)
		fill(&last.WriterGoal, r.WriterGoal)
		fill(&last.WriterBackstory, r.WriterBackstory)
		fill(&last.EditorGoal, r.EditorGoal)
		fill(&last.EditorBackstory, r.EditorBackstory)
	}
	fill(&p.ResearcherGoal, last.ResearcherGoal)
	fill(&p.ResearcherBackstory, last.ResearcherBackstory)
	fill(&p.WriterGoal, last.WriterGoal)
	fill(&p.WriterBackstory, last.WriterBackstory)
	fill(&p.EditorGoal, last.EditorGoal)
	fill(&p.EditorBackstory, last.EditorBackstory)
}

func fill(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

func promptParams(p *app.Params) error {
	fields := []struct {
		label    string
		dst      *string
		required bool
	}{
		{"Topic", &p.Topic, true},
		{"Researcher goal", &p.ResearcherGoal, true},
		{"Writer goal", &p.WriterGoal, true},
		{"Editor goal", &p.EditorGoal, false},
	}
	for _, f := range fields {
		prompt := promptui.Prompt{Label: f.label, Default: *f.dst, AllowEdit: true}
		if f.required {
			prompt.Validate = func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("must not be blank")
				}
				return nil
			}
		}
		value, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return errors.New("aborted")
			}
			return err
		}
		*f.dst = strings.TrimSpace(value)
	}
	return nil
}

// printProgress writes one line per task transition until the run is done
// or the stream ends.
func printProgress(w io.Writer, updates <-chan pipeline.Snapshot) {
	seen := make(map[int]pipeline.Status)
	for snap := range updates {
		for _, task := range snap.Tasks {
			if task.Status == pipeline.StatusPending || seen[task.Index] == task.Status {
				continue
			}
			seen[task.Index] = task.Status
			label := fmt.Sprintf("[%d/%d] %s", task.Index+1, snap.Total, task.Role)
			switch task.Status {
			case pipeline.StatusStarting:
				fmt.Fprintf(w, "%s %s\n", gray(label), gray(task.Description))
			case pipeline.StatusFinished:
				fmt.Fprintf(w, "%s %s\n", green(label), green("done"))
			case pipeline.StatusFailed:
				fmt.Fprintf(w, "%s %s\n", red(label), red(task.Error))
			}
		}
	}
}

// waitDone blocks until the worker has stopped and the result is available.
func waitDone(runs *app.Service, callerID, runID string) error {
	updates, err := runs.Watch(context.Background(), callerID, runID)
	if err != nil {
		return err
	}
	for range updates {
	}
	return nil
}
