package toolexec

import (
	"fmt"
	"os"
	"path/filepath"

	"imgforge/internal/services"
)

// Pair binds a section name to an artifact path in a batched invocation.
type Pair struct {
	Name string
	Path string
}

// PairArgs renders pairs as name=path arguments in the given order.
func PairArgs(pairs []Pair) []string {
	args := make([]string, 0, len(pairs))
	for _, p := range pairs {
		args = append(args, p.Name+"="+p.Path)
	}
	return args
}

// CollectOutputs maps each pair's name to <dir>/<name>.pak and fails if a
// tool did not produce one of them.
func CollectOutputs(tool, dir string, pairs []Pair) (map[string]string, error) {
	outputs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out := filepath.Join(dir, p.Name+".pak")
		info, err := os.Stat(out)
		if err != nil || info.IsDir() {
			return nil, services.Wrap(services.ErrExternalTool, tool, "collect",
				fmt.Sprintf("no output for section %s at %s", p.Name, out), err)
		}
		outputs[p.Name] = out
	}
	return outputs, nil
}
