package preflight

import (
	"imgforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks that gate a build. required is the number of
// bytes the image will occupy in the output directory; zero skips the free
// space check.
func RunAll(cfg *config.Config, outputDir string, required int64) []Result {
	if cfg == nil {
		return nil
	}
	if outputDir == "" {
		outputDir = cfg.Paths.OutputDir
	}

	results := CheckTools(cfg)
	results = append(results,
		CheckCreatable("Output directory", outputDir),
		CheckCreatable("State directory", cfg.Paths.StateDir),
	)
	if required > 0 {
		results = append(results, CheckFreeSpace("Free space", outputDir, required))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
