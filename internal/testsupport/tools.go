package testsupport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"imgforge/internal/config"
	"imgforge/internal/pak"
	"imgforge/internal/services"
	"imgforge/internal/services/toolexec"
)

// Entries the fake tools add to the archives they produce.
const (
	SignatureEntry = "signature"
	ImageHashEntry = "imagehash"
	ptableHeader   = "PTBL\n"
)

// FakeTools is an in-process toolexec.Runner that emulates the external
// image tools so pipelines can run end to end in tests.
//
//   - sign: copies each input to <output>/<name>.pak and adds a signature entry
//   - hash: copies each input to <output>/<name>.pak and adds an imagehash entry
//   - flashbuild compile-ptable: writes a header plus the partitions file
//   - flashbuild build-image: concatenates each archive padded with 0xFF to its
//     partition size, in partition-table order
//   - ecc: writes the image followed by its SHA256
//   - paktool merge: native merge
type FakeTools struct {
	names map[string]string

	mu    sync.Mutex
	calls []toolexec.Command
	fail  map[string]int
}

// NewFakeTools builds fake tools keyed by the binary names in cfg.
func NewFakeTools(cfg *config.Config) *FakeTools {
	return &FakeTools{
		names: map[string]string{
			filepath.Base(cfg.SignBinary()):       "sign",
			filepath.Base(cfg.HashBinary()):       "hash",
			filepath.Base(cfg.FlashbuildBinary()): "flashbuild",
			filepath.Base(cfg.ECCBinary()):        "ecc",
			filepath.Base(cfg.PaktoolBinary()):    "paktool",
		},
		fail: map[string]int{},
	}
}

// FailWith makes the named tool (sign, hash, flashbuild, ecc, paktool) exit
// with code.
func (f *FakeTools) FailWith(tool string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[tool] = code
}

// Calls returns the recorded invocations.
func (f *FakeTools) Calls() []toolexec.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]toolexec.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded invocations of one tool.
func (f *FakeTools) CallsTo(tool string) []toolexec.Command {
	var out []toolexec.Command
	for _, call := range f.Calls() {
		if f.names[filepath.Base(call.Binary)] == tool {
			out = append(out, call)
		}
	}
	return out
}

// Run implements toolexec.Runner.
func (f *FakeTools) Run(ctx context.Context, cmd toolexec.Command) error {
	f.mu.Lock()
	f.calls = append(f.calls, toolexec.Command{Binary: cmd.Binary, Args: append([]string(nil), cmd.Args...), Dir: cmd.Dir})
	tool := f.names[filepath.Base(cmd.Binary)]
	code, failing := f.fail[tool]
	f.mu.Unlock()

	if failing {
		return &services.ExitError{Command: cmd.String(), Dir: cmd.Dir, Code: code, Output: "injected failure"}
	}
	if cmd.Dir == "" {
		return f.exit(cmd, "working directory not set")
	}

	var err error
	switch tool {
	case "sign":
		err = f.stamp(cmd.Args, SignatureEntry)
	case "hash":
		err = f.stamp(cmd.Args, ImageHashEntry)
	case "flashbuild":
		err = f.flashbuild(cmd.Args)
	case "ecc":
		err = f.ecc(cmd.Args)
	case "paktool":
		if len(cmd.Args) < 2 || cmd.Args[0] != "merge" {
			err = fmt.Errorf("usage: merge <dest> <src>...")
		} else {
			err = pak.NewNative().Merge(ctx, cmd.Args[1], cmd.Args[2:]...)
		}
	default:
		err = fmt.Errorf("unknown tool %s", cmd.Binary)
	}
	if err != nil {
		return f.exit(cmd, err.Error())
	}
	return nil
}

func (f *FakeTools) exit(cmd toolexec.Command, msg string) error {
	return &services.ExitError{Command: cmd.String(), Dir: cmd.Dir, Code: 1, Output: msg}
}

func (f *FakeTools) stamp(args []string, entry string) error {
	var output string
	var pairs []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--output":
			i++
			output = args[i]
		case "--scratch":
			i++
		default:
			pairs = append(pairs, args[i])
		}
	}
	if output == "" {
		return fmt.Errorf("--output required")
	}
	for _, pair := range pairs {
		name, path, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("bad pair %q", pair)
		}
		archive, err := pak.Read(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(archive.HashList())
		if err := archive.Add(entry, pak.Store, []byte(hex.EncodeToString(sum[:]))); err != nil {
			return err
		}
		if err := archive.SaveAs(filepath.Join(output, name+".pak")); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeTools) flashbuild(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("subcommand required")
	}
	switch args[0] {
	case "compile-ptable":
		if len(args) != 3 {
			return fmt.Errorf("usage: compile-ptable <partitions> <table>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		return os.WriteFile(args[2], append([]byte(ptableHeader), data...), 0o644)
	case "build-image":
		if len(args) < 3 {
			return fmt.Errorf("usage: build-image <table> <image> -p name=path...")
		}
		return buildImage(args[1], args[2], args[3:])
	default:
		return fmt.Errorf("unknown subcommand %s", args[0])
	}
}

func buildImage(table, image string, rest []string) error {
	partitions, err := ReadPartitionTable(table)
	if err != nil {
		return err
	}
	var order []string
	paths := map[string]string{}
	for i := 0; i < len(rest); i++ {
		if rest[i] != "-p" || i+1 >= len(rest) {
			return fmt.Errorf("bad argument %q", rest[i])
		}
		i++
		name, path, ok := strings.Cut(rest[i], "=")
		if !ok {
			return fmt.Errorf("bad partition %q", rest[i])
		}
		order = append(order, name)
		paths[name] = path
	}
	if len(order) != len(partitions) {
		return fmt.Errorf("got %d partitions, table has %d", len(order), len(partitions))
	}

	var buf bytes.Buffer
	for i, part := range partitions {
		if order[i] != part.Name {
			return fmt.Errorf("partition %d is %s, table expects %s", i, order[i], part.Name)
		}
		data, err := os.ReadFile(paths[part.Name])
		if err != nil {
			return err
		}
		if int64(len(data)) > part.Size {
			return fmt.Errorf("partition %s: %d bytes exceed size %d", part.Name, len(data), part.Size)
		}
		buf.Write(data)
		buf.Write(bytes.Repeat([]byte{0xFF}, int(part.Size)-len(data)))
	}
	return os.WriteFile(image, buf.Bytes(), 0o644)
}

func (f *FakeTools) ecc(args []string) error {
	if len(args) != 4 || args[0] != "--inject" || args[2] != "--output" {
		return fmt.Errorf("usage: --inject <image> --output <out>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	return os.WriteFile(args[3], append(data, sum[:]...), 0o644)
}

// Partition is one line of a fake partition table.
type Partition struct {
	Name string
	Size int64
}

// ReadPartitionTable parses a table written by the fake compile-ptable.
func ReadPartitionTable(path string) ([]Partition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte(ptableHeader)) {
		return nil, fmt.Errorf("%s: not a partition table", path)
	}
	var parts []Partition
	scanner := bufio.NewScanner(bytes.NewReader(data[len(ptableHeader):]))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s: bad line %q", path, scanner.Text())
		}
		size, err := strconv.ParseInt(fields[1], 0, 64)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Partition{Name: fields[0], Size: size})
	}
	return parts, scanner.Err()
}
