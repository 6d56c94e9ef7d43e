package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"imgforge/internal/pipeline"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.Options
	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Resolve a manifest and show what a build would do",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			opts.Manifest = args[0]
			plan, err := ctx.pipeline(cfg, logger).Plan(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(plan.Sections))
			for _, spec := range plan.Sections {
				rows = append(rows, []string{
					strconv.Itoa(spec.Section.Position),
					spec.Section.Name,
					humanize.IBytes(uint64(spec.Section.PartitionSize)),
					describeInputs(spec),
					policyLabel(spec.Class),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Section", "Partition", "Inputs", "Policy"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Image: %s\n", plan.Layout.Image(plan.ImageName))
			fmt.Fprintf(out, "Sides: %d\n", plan.Replication.Sides)
			if plan.Replication.Golden != "" {
				fmt.Fprintf(out, "Golden image: %s\n", plan.Replication.Golden)
			}
			fmt.Fprintf(out, "Space required: %s\n", humanize.IBytes(uint64(plan.RequiredSpace())))
			return nil
		},
	}
	addBuildFlags(cmd, &opts)
	return cmd
}

func describeInputs(spec pipeline.SectionSpec) string {
	var parts []string
	if spec.SignedImage.Path != "" && !spec.Class.Merges() {
		parts = append(parts, fmt.Sprintf("signed %s [%s]", filepath.Base(spec.SignedImage.Path), spec.SignedImage.Source))
	}
	for _, file := range spec.Files {
		if file.Missing {
			parts = append(parts, fmt.Sprintf("file %s [placeholder]", file.Name))
			continue
		}
		parts = append(parts, fmt.Sprintf("file %s", file.Name))
	}
	for _, archive := range spec.Archives {
		parts = append(parts, fmt.Sprintf("%s [%s]", filepath.Base(archive.Path), archive.Source))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "\n")
}
