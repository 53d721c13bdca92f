package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/detect"
	"quill/internal/pipeline"
	"quill/internal/presentation"
	"quill/internal/store"
)

func newHistoryCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)

			records, err := container.Runs.History(ctx, cli.callerID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, gray("no recorded runs"))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTAGES\tTOPIC")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), len(r.Outputs), r.Topic)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records, 0 for all")

	var diffs bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)

			rec, err := container.Runs.HistoryRecord(ctx, cli.callerID, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold("topic:"), rec.Topic)
			opts := presentation.ReportOptions{Color: !color.NoColor, ShowDiffs: diffs}
			if renderer, err := presentation.NewMarkdownRenderer(terminalWidth(out), !cli.isTTY()); err == nil {
				opts.Markdown = renderer
			}
			return presentation.Report(out, recordOutcome(rec), opts)
		},
	}
	show.Flags().BoolVar(&diffs, "diffs", false, "print each stage's inline diff")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)
			if err := container.Runs.DeleteHistoryRecord(ctx, cli.callerID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}

// recordOutcome rebuilds the outcome of a recorded run for display.
func recordOutcome(rec store.RunRecord) app.Outcome {
	out := app.Outcome{
		RunID:    rec.RunID,
		Status:   "succeeded",
		Output:   rec.FinalOutput,
		RecordID: rec.ID,
	}
	for _, o := range rec.Outputs {
		out.Outputs = append(out.Outputs, pipeline.TaskOutput{Index: o.Index, Role: o.Role, Output: o.Output})
	}
	if len(rec.Detection) > 0 {
		var v detect.Verdict
		if err := json.Unmarshal(rec.Detection, &v); err == nil {
			out.Detection = &v
		}
	}
	return out
}
