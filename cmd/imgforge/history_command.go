package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"imgforge/internal/history"
	"imgforge/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return services.Wrap(services.ErrIO, "history", "list", "", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No builds recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					run.StartedAt.Local().Format(time.DateTime),
					run.Status,
					strconv.Itoa(run.ExitCode),
					formatDuration(run.Duration()),
					run.Manifest,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Status", "Exit", "Duration", "Manifest"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of builds to show")
	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one build with its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return services.Wrap(services.ErrConfiguration, "history", "show", "", err)
			}
			if err != nil {
				return services.Wrap(services.ErrIO, "history", "show", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run: %s\n", run.ID)
			fmt.Fprintf(out, "Manifest: %s\n", run.Manifest)
			fmt.Fprintf(out, "Status: %s (exit %d)\n", run.Status, run.ExitCode)
			fmt.Fprintf(out, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Duration: %s\n", formatDuration(run.Duration()))
			if run.Image != "" {
				fmt.Fprintf(out, "Image: %s\n", run.Image)
			}
			if run.ImageSHA256 != "" {
				fmt.Fprintf(out, "Image SHA256: %s (%s)\n", run.ImageSHA256, humanize.IBytes(uint64(run.ImageSize)))
			}
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}
			if len(run.Sections) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(run.Sections))
			for _, section := range run.Sections {
				rows = append(rows, []string{
					strconv.Itoa(section.Position),
					section.Name,
					section.Policy,
					humanize.IBytes(uint64(section.Size)),
					shortDigest(section.SHA256),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Section", "Policy", "Size", "SHA256"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
