package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"imgforge/internal/config"
)

// Requirement defines an external tool a build relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Path = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// ToolRequirements lists the external tools a build invokes with the given
// configuration. paktool is only required when it is the archive engine.
func ToolRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "Signer", Command: cfg.SignBinary(), Description: "Signs hash-listed sections"},
		{Name: "Hasher", Command: cfg.HashBinary(), Description: "Hashes sections into their final archives"},
		{Name: "Flashbuild", Command: cfg.FlashbuildBinary(), Description: "Compiles the partition table and builds the image"},
		{Name: "ECC", Command: cfg.ECCBinary(), Description: "Injects ECC into the image"},
		{
			Name:        "Paktool",
			Command:     cfg.PaktoolBinary(),
			Description: "Merges section archives",
			Optional:    cfg.Archive.Engine != config.EnginePaktool,
		},
	}
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
