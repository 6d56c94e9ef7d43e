package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"imgforge/internal/config"
	"imgforge/internal/pipeline"
	"imgforge/internal/preflight"
	"imgforge/internal/services"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var sides int
	cmd := &cobra.Command{
		Use:   "check [manifest]",
		Short: "Check tools, directories and free space before a build",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if outputDir != "" {
				if outputDir, err = config.ExpandPath(outputDir); err != nil {
					return services.Wrap(services.ErrConfiguration, "check", "output dir", outputDir, err)
				}
			}

			var required int64
			if len(args) == 1 {
				logger, err := ctx.logger()
				if err != nil {
					return err
				}
				plan, err := ctx.pipeline(cfg, logger).Plan(cmd.Context(), pipeline.Options{
					Manifest:     args[0],
					OutputDir:    outputDir,
					Sides:        sides,
					SkipDownload: true,
				})
				if err != nil {
					return err
				}
				required = plan.RequiredSpace()
				outputDir = plan.Layout.Root
			}

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			results := preflight.RunAll(cfg, outputDir, required)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{result.Name, statusLabel(result.Passed, colorize), result.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

			if failed := preflight.Failed(results); len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, result := range failed {
					names = append(names, result.Name)
				}
				return services.Wrap(services.ErrConfiguration, "check", "", "failed: "+strings.Join(names, ", "), nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory to check (default from config)")
	cmd.Flags().IntVar(&sides, "sides", 0, "Side count used for the free space estimate")
	return cmd
}
