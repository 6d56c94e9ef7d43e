package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"imgforge/internal/pipeline"
	"imgforge/internal/release"
)

func addBuildFlags(cmd *cobra.Command, opts *pipeline.Options) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputDir, "output", "o", "", "Output directory (default from config)")
	flags.StringVarP(&opts.ImageName, "name", "n", "", "Output image file name (default from config)")
	flags.StringVar(&opts.OverrideDir, "override-dir", "", "Directory whose files replace inputs of the same name")
	flags.IntVar(&opts.Sides, "sides", 0, "Number of image copies; overrides the manifest and drops its golden image")
	flags.BoolVar(&opts.SkipDownload, "skip-download", false, "Use the existing release snapshot without fetching")
	flags.BoolVar(&opts.ForceSign, "force-sign", false, "Sign sections that name a pre-signed image")
	flags.StringVar(&opts.EKBRoot, "ekb", "", "EKB build root (overrides the manifest)")
	flags.StringVar(&opts.SBERoot, "sbe", "", "SBE build root (overrides the manifest)")
	flags.IntVarP(&opts.Jobs, "jobs", "j", 0, "Sections staged in parallel (default from config)")
}

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.Options
	cmd := &cobra.Command{
		Use:   "build <manifest>",
		Short: "Build a flash image from a manifest",
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
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			pipelineOpts := []pipeline.Option{pipeline.WithHistory(store)}
			if isTerminal(cmd.ErrOrStderr()) {
				fetcher := release.New(logger,
					release.WithTimeout(time.Duration(cfg.Release.TimeoutSeconds)*time.Second),
					release.WithProgress(cmd.ErrOrStderr()),
				)
				pipelineOpts = append(pipelineOpts, pipeline.WithFetcher(fetcher))
			}

			opts.Manifest = args[0]
			result, err := ctx.pipeline(cfg, logger, pipelineOpts...).Build(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(result.Sections))
			for _, final := range result.Sections {
				rows = append(rows, []string{
					strconv.Itoa(final.Section.Position),
					final.Section.Name,
					policyLabel(final.Class),
					humanize.IBytes(uint64(final.Digest.Size)),
					shortDigest(final.Digest.SHA256),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Section", "Policy", "Size", "SHA256"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Image: %s (%s, %d side(s))\n", result.Image, humanize.IBytes(uint64(result.Digest.Size)), result.Replication.Sides)
			fmt.Fprintf(out, "ECC: %s\n", result.ECC)
			writePlaceholders(out, result)
			fmt.Fprintf(out, "Run: %s (%s)\n", result.RunID, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	addBuildFlags(cmd, &opts)
	return cmd
}

// writePlaceholders lists zero-length placeholder entries in manifest order.
func writePlaceholders(w io.Writer, result *pipeline.Result) {
	for _, final := range result.Sections {
		if entries := result.Placeholders[final.Section.Name]; len(entries) > 0 {
			fmt.Fprintf(w, "Placeholder entries in %s: %s\n", final.Section.Name, strings.Join(entries, ", "))
		}
	}
}
