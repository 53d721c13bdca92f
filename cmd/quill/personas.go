package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/persona"
	"quill/internal/store"
)

func newPersonasCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Manage the persona pool used by micro tasks",
	}
	cmd.AddCommand(
		newPersonasListCommand(cli),
		newPersonasGenerateCommand(cli),
		newPersonasToggleCommand(cli, "activate", true),
		newPersonasToggleCommand(cli, "deactivate", false),
		newPersonasImportCommand(cli),
		newPersonasExportCommand(cli),
	)
	return cmd
}

func newPersonasListCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the active pool and saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)

			out := cmd.OutOrStdout()
			pool := container.Personas.Pool(ctx, cli.callerID)
			label := "active pool"
			if pool.IsFallback() {
				label += " (built-in defaults)"
			}
			fmt.Fprintf(out, "%s: %s\n\n", bold(label), strings.Join(pool.Names(), ", "))

			profiles, err := container.Personas.Profiles(ctx, cli.callerID)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Fprintln(out, gray("no saved profiles"))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTIVE\tSOURCE\tPERSONAS")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", p.ID, p.Active, p.SourceType, strings.Join(p.Profile.Agents(), ", "))
			}
			return tw.Flush()
		},
	}
}

func newPersonasGenerateCommand(cli *CLI) *cobra.Command {
	var (
		url, text, file, topic string
		save, asJSON           bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Suggest a persona profile from a writing sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := app.ProfileRequest{CallerID: cli.callerID, Topic: topic, Save: save}
			switch {
			case url != "":
				req.SourceType, req.SourceValue = app.SourceURL, url
			case file != "":
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				req.SourceType, req.SourceValue = app.SourceText, string(raw)
			case text != "":
				req.SourceType, req.SourceValue = app.SourceText, text
			default:
				return errors.New("one of --url, --file or --text is required")
			}

			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)

			generated, err := container.Personas.GenerateProfile(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(generated)
			}
			p := generated.Profile
			fmt.Fprintf(out, "%s %s\n", bold("tone:"), p.Tone)
			fmt.Fprintf(out, "%s %s\n", bold("style:"), p.Style)
			if p.Role != "" {
				fmt.Fprintf(out, "%s %s\n", bold("role:"), p.Role)
			}
			fmt.Fprintf(out, "%s %s\n", bold("personas:"), cyan(strings.Join(p.Agents(), ", ")))
			if p.Warning != "" {
				fmt.Fprintln(out, gray(p.Warning))
			}
			if generated.ID != "" {
				fmt.Fprintf(out, "saved as %s\n", green(generated.ID))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&url, "url", "", "article URL to analyse")
	f.StringVar(&file, "file", "", "text file to analyse")
	f.StringVar(&text, "text", "", "text to analyse")
	f.StringVar(&topic, "topic", "", "topic the personas will write about")
	f.BoolVar(&save, "save", false, "save the profile as active")
	f.BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

func newPersonasToggleCommand(cli *CLI, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <profile-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)
			if err := container.Personas.SetActive(ctx, cli.callerID, args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], verb)
			return nil
		},
	}
}

func newPersonasImportCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Save a YAML persona list as an active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			items, err := persona.ReadFile(f)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(items))
			for _, item := range items {
				if name := strings.TrimSpace(item.Name); name != "" {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				return fmt.Errorf("%s lists no personas", args[0])
			}

			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)
			id, err := container.Personas.SaveProfile(ctx, store.PersonaProfile{
				CallerID:    cli.callerID,
				SourceType:  "file",
				SourceValue: args[0],
				Profile:     persona.Profile{MicroAgentList: names},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d personas as %s\n", len(names), green(id))
			return nil
		},
	}
}

func newPersonasExportCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.yaml]",
		Short: "Write the active pool as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := cli.container(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup(container)

			names := container.Personas.Pool(ctx, cli.callerID).Names()
			items := make([]persona.Weighted, len(names))
			for i, name := range names {
				items[i] = persona.Weighted{Name: name, Weight: 1}
			}
			if len(args) == 0 {
				return persona.WriteFile(cmd.OutOrStdout(), items)
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := persona.WriteFile(f, items); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}
