package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"imgforge/internal/buildlock"
	"imgforge/internal/config"
	"imgforge/internal/history"
	"imgforge/internal/logging"
	"imgforge/internal/notifications"
	"imgforge/internal/pipeline"
	"imgforge/internal/policy"
	"imgforge/internal/services"
	"imgforge/internal/testsupport"
)

const bootRuntimeManifest = `
image_sections:
  boot:
    partition_size: 4096
    files:
      - [boot.cfg, "%gen%/boot.cfg"]
    imagehash: true
  runtime:
    partition_size: 65536
    archives: ["%ekbImageDir%/rt-a.pak", "%ekbImageDir%/rt-b.pak"]
    hashlist: hash.list
    hashpath: rt/
    nohash: ["rt/*.sig"]
`

type fixture struct {
	cfg      *config.Config
	tools    *testsupport.FakeTools
	manifest string
	imageDir string
}

func newFixture(t *testing.T, manifest string, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithRoots()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	imageDir := filepath.Join(cfg.Build.EKBRoot, "output", "images", cfg.Build.TargetArch)
	testsupport.WriteArchive(t, filepath.Join(imageDir, "rt-a.pak"), "rt/app.bin", "rt/app.sig")
	testsupport.WriteArchive(t, filepath.Join(imageDir, "rt-b.pak"), "rt/lib.bin")
	return &fixture{
		cfg:      cfg,
		tools:    testsupport.NewFakeTools(cfg),
		manifest: testsupport.WriteFile(t, filepath.Join(base, "image.yaml"), manifest),
		imageDir: imageDir,
	}
}

func (f *fixture) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithRunner(f.tools)}, opts...)
	return pipeline.New(f.cfg, logging.NewNop(), opts...)
}

func (f *fixture) writeBootConfig(t *testing.T) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(f.cfg.Paths.OutputDir, "gen", "boot.cfg"), "console=ttyS0")
}

func (f *fixture) final(name string) string {
	return filepath.Join(f.cfg.Paths.OutputDir, "gen", "final", name+".pak")
}

func TestBuildBootRuntime(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	f.writeBootConfig(t)

	result, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	boot := testsupport.ReadArchive(t, f.final("boot"))
	if diff := cmp.Diff([]string{"boot.cfg", testsupport.ImageHashEntry}, boot.Names()); diff != "" {
		t.Fatalf("boot entries mismatch (-want +got):\n%s", diff)
	}
	cfgEntry, _ := boot.Get("boot.cfg")
	if string(cfgEntry.Data) != "console=ttyS0" {
		t.Fatalf("boot.cfg content = %q", cfgEntry.Data)
	}

	runtime := testsupport.ReadArchive(t, f.final("runtime"))
	want := []string{"rt/app.bin", "rt/lib.bin", "rt/hash.list", testsupport.SignatureEntry, testsupport.ImageHashEntry, "rt/app.sig"}
	if diff := cmp.Diff(want, runtime.Names()); diff != "" {
		t.Fatalf("runtime entries mismatch (-want +got):\n%s", diff)
	}
	sig, _ := runtime.Get("rt/app.sig")
	if string(sig.Data) != "content of rt/app.sig" {
		t.Fatalf("held entry changed: %q", sig.Data)
	}
	list, _ := runtime.Get("rt/hash.list")
	if !strings.Contains(string(list.Data), "rt/app.bin ") || strings.Contains(string(list.Data), "app.sig") {
		t.Fatalf("unexpected hash list:\n%s", list.Data)
	}

	table, err := testsupport.ReadPartitionTable(filepath.Join(f.cfg.Paths.OutputDir, "gen", "part.tbl"))
	if err != nil {
		t.Fatalf("ReadPartitionTable: %v", err)
	}
	wantTable := []testsupport.Partition{{Name: "boot", Size: 4096}, {Name: "runtime", Size: 65536}}
	if diff := cmp.Diff(wantTable, table); diff != "" {
		t.Fatalf("partition table mismatch (-want +got):\n%s", diff)
	}

	image, err := os.ReadFile(result.Image)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if len(image) != 4096+65536 {
		t.Fatalf("image size = %d", len(image))
	}
	bootBytes, _ := os.ReadFile(f.final("boot"))
	runtimeBytes, _ := os.ReadFile(f.final("runtime"))
	if !bytes.HasPrefix(image, bootBytes) || !bytes.HasPrefix(image[4096:], runtimeBytes) {
		t.Fatal("image does not hold boot then runtime")
	}
	if _, err := os.Stat(result.Image + ".ecc"); err != nil {
		t.Fatalf("ecc sibling missing: %v", err)
	}

	if calls := f.tools.CallsTo("sign"); len(calls) != 1 || !strings.Contains(strings.Join(calls[0].Args, " "), "runtime=") ||
		strings.Contains(strings.Join(calls[0].Args, " "), "boot=") {
		t.Fatalf("expected one sign call for runtime only, got %+v", calls)
	}
	hashCalls := f.tools.CallsTo("hash")
	if len(hashCalls) != 1 {
		t.Fatalf("expected one batched hash call, got %d", len(hashCalls))
	}
	args := strings.Join(hashCalls[0].Args, " ")
	if !strings.Contains(args, "boot=") || !strings.Contains(args, filepath.Join("signed", "runtime.pak")) {
		t.Fatalf("unexpected hash args %q", args)
	}
	for _, call := range f.tools.Calls() {
		if call.Dir != filepath.Join(f.cfg.Paths.OutputDir, "gen") {
			t.Fatalf("tool ran in %q", call.Dir)
		}
	}

	if len(result.Sections) != 2 || result.Sections[0].Class != policy.HashOnly || result.Sections[1].Class != policy.SignAndHash {
		t.Fatalf("unexpected sections %+v", result.Sections)
	}
	if result.RunID == "" || result.Digest.Size != int64(len(image)) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBuildMissingArchiveFailsBeforeSideEffects(t *testing.T) {
	manifest := `
image_sections:
  boot:
    partition_size: 4096
    imagehash: true
  runtime:
    partition_size: 65536
    archives: ["%ekbImageDir%/rt-a.pak", "%ekbImageDir%/absent.pak"]
`
	f := newFixture(t, manifest)

	_, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if !errors.Is(err, services.ErrResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "absent.pak") {
		t.Fatalf("error should name the missing file: %v", err)
	}
	if calls := f.tools.Calls(); len(calls) != 0 {
		t.Fatalf("expected no tool calls, got %+v", calls)
	}
	if _, statErr := os.Stat(f.cfg.Paths.OutputDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("output directory should not exist, stat err = %v", statErr)
	}
}

func TestBuildMissingLiteralBecomesPlaceholder(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)

	result, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"boot.cfg"}, result.Placeholders["boot"]); diff != "" {
		t.Fatalf("placeholders mismatch (-want +got):\n%s", diff)
	}
	entry, ok := testsupport.ReadArchive(t, f.final("boot")).Get("boot.cfg")
	if !ok || len(entry.Data) != 0 {
		t.Fatalf("expected zero-length placeholder, got %+v", entry)
	}
}

func TestBuildOverrideWins(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest, testsupport.WithOverrideDir())
	f.writeBootConfig(t)
	testsupport.WriteArchive(t, filepath.Join(f.cfg.Paths.OverrideDir, "nested", "rt-b.pak"), "rt/patched.bin")

	if _, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	runtime := testsupport.ReadArchive(t, f.final("runtime"))
	if _, ok := runtime.Get("rt/patched.bin"); !ok {
		t.Fatalf("override archive not used: %v", runtime.Names())
	}
	if _, ok := runtime.Get("rt/lib.bin"); ok {
		t.Fatal("on-disk archive should be shadowed by the override")
	}
}

func TestBuildAsIsPassThrough(t *testing.T) {
	manifest := `
image_sections:
  data:
    partition_size: 8192
    archives: ["%ekbImageDir%/rt-b.pak"]
`
	f := newFixture(t, manifest)
	if _, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	merged, err := os.ReadFile(filepath.Join(f.cfg.Paths.OutputDir, "gen", "merged", "data.pak"))
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	final, err := os.ReadFile(f.final("data"))
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if !bytes.Equal(merged, final) {
		t.Fatal("as-is final archive differs from merged archive")
	}
	if len(f.tools.CallsTo("sign")) != 0 || len(f.tools.CallsTo("hash")) != 0 {
		t.Fatal("as-is section must not be signed or hashed")
	}
}

func TestBuildReplication(t *testing.T) {
	manifest := `
sides: 2
golden_image: "%sbeRoot%/golden.bin"
image_sections:
  data:
    partition_size: 4096
    archives: ["%ekbImageDir%/rt-b.pak"]
`
	t.Run("manifest sides with golden image", func(t *testing.T) {
		f := newFixture(t, manifest)
		testsupport.WriteFile(t, filepath.Join(f.cfg.Build.SBERoot, "golden.bin"), "GOLDEN")
		result, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		image, _ := os.ReadFile(result.Image)
		if len(image) != 2*4096+len("GOLDEN") || !bytes.HasSuffix(image, []byte("GOLDEN")) {
			t.Fatalf("unexpected image size %d", len(image))
		}
		if !bytes.Equal(image[:4096], image[4096:8192]) {
			t.Fatal("sides differ")
		}
	})

	t.Run("override sides drops golden image", func(t *testing.T) {
		f := newFixture(t, manifest)
		result, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest, Sides: 3})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		image, _ := os.ReadFile(result.Image)
		if len(image) != 3*4096 {
			t.Fatalf("expected 3S bytes, got %d", len(image))
		}
		if result.Replication.Golden != "" {
			t.Fatalf("golden image should be dropped, got %q", result.Replication.Golden)
		}
	})

	t.Run("single side ignores unresolvable golden image", func(t *testing.T) {
		f := newFixture(t, `
golden_image: "%sbeRoot%/missing-golden.bin"
image_sections:
  data:
    partition_size: 4096
    archives: ["%ekbImageDir%/rt-b.pak"]
`)
		result, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if result.Replication.Sides != 1 || result.Replication.Golden != "" {
			t.Fatalf("unexpected replication %+v", result.Replication)
		}
		image, _ := os.ReadFile(result.Image)
		if len(image) != 4096 {
			t.Fatalf("expected one side, got %d bytes", len(image))
		}
	})
}

func TestBuildToolFailureExitCode(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	f.writeBootConfig(t)
	f.tools.FailWith("sign", 7)
	store := testsupport.MustOpenHistory(t, f.cfg)

	_, err := f.pipeline(pipeline.WithHistory(store)).Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if code := services.ExitCode(err); code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
	if len(f.tools.CallsTo("hash")) != 0 || len(f.tools.CallsTo("ecc")) != 0 {
		t.Fatal("pipeline continued after a failed tool")
	}
	if _, statErr := os.Stat(filepath.Join(f.cfg.Paths.OutputDir, f.cfg.Build.ImageName)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("image should not exist, stat err = %v", statErr)
	}

	runs, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != history.StatusFailed || runs[0].ExitCode != 7 {
		t.Fatalf("unexpected history %+v", runs)
	}
}

func TestBuildRecordsHistory(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	f.writeBootConfig(t)
	store := testsupport.MustOpenHistory(t, f.cfg)

	result, err := f.pipeline(pipeline.WithHistory(store)).Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	run, err := store.Get(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != history.StatusSucceeded || run.ImageSHA256 != result.Digest.SHA256 {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(run.Sections) != 2 || run.Sections[1].Name != "runtime" || run.Sections[1].Policy != string(policy.SignAndHash) {
		t.Fatalf("unexpected sections %+v", run.Sections)
	}
}

func TestBuildPaktoolEngine(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	f.writeBootConfig(t)
	f.cfg.Archive.Engine = config.EnginePaktool

	if _, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	calls := f.tools.CallsTo("paktool")
	if len(calls) != 1 || calls[0].Args[0] != "merge" || len(calls[0].Args) != 4 {
		t.Fatalf("expected one merge of two archives, got %+v", calls)
	}
}

func TestBuildPreSignedAndForceSign(t *testing.T) {
	manifest := `
image_sections:
  secure:
    partition_size: 8192
    archives: ["%ekbImageDir%/rt-b.pak"]
    hashlist: hash.list
    signed_image: "%sbeRoot%/prebuilt/secure.pak"
`
	t.Run("pre-signed copy", func(t *testing.T) {
		f := newFixture(t, manifest)
		prebuilt := testsupport.WriteArchive(t, filepath.Join(f.cfg.Build.SBERoot, "prebuilt", "secure.pak"), "secure.bin")
		if _, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest}); err != nil {
			t.Fatalf("Build: %v", err)
		}
		want, _ := os.ReadFile(prebuilt)
		got, _ := os.ReadFile(f.final("secure"))
		if !bytes.Equal(want, got) {
			t.Fatal("pre-signed final archive is not a copy of the configured archive")
		}
		if len(f.tools.CallsTo("sign")) != 0 {
			t.Fatal("pre-signed section must not be signed")
		}
	})

	t.Run("force sign", func(t *testing.T) {
		f := newFixture(t, manifest)
		testsupport.WriteArchive(t, filepath.Join(f.cfg.Build.SBERoot, "prebuilt", "secure.pak"), "secure.bin")
		if _, err := f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest, ForceSign: true}); err != nil {
			t.Fatalf("Build: %v", err)
		}
		if len(f.tools.CallsTo("sign")) != 1 {
			t.Fatal("forced section should be signed")
		}
		final := testsupport.ReadArchive(t, f.final("secure"))
		want := []string{"rt/lib.bin", "secure.bin", "hash.list", testsupport.SignatureEntry, testsupport.ImageHashEntry}
		if diff := cmp.Diff(want, final.Names()); diff != "" {
			t.Fatalf("entries mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBuildHeldLock(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	f.writeBootConfig(t)
	lock, err := buildlock.Acquire(filepath.Join(f.cfg.Paths.OutputDir, ".imgforge.lock"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	_, err = f.pipeline().Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(f.tools.Calls()) != 0 {
		t.Fatal("no tool should run while the output directory is locked")
	}
}

func TestPlanOrderAndClasses(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	plan, err := f.pipeline().Plan(context.Background(), pipeline.Options{Manifest: f.manifest, Sides: 2})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var names []string
	for _, spec := range plan.Sections {
		names = append(names, spec.Section.Name)
	}
	if diff := cmp.Diff([]string{"boot", "runtime"}, names); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if plan.Sections[0].Class != policy.HashOnly || !plan.Sections[0].Files[0].Missing {
		t.Fatalf("unexpected boot spec %+v", plan.Sections[0])
	}
	if len(plan.Sections[1].Archives) != 2 {
		t.Fatalf("unexpected runtime archives %+v", plan.Sections[1].Archives)
	}
	if plan.RequiredSpace() != 2*(4096+65536) {
		t.Fatalf("required space = %d", plan.RequiredSpace())
	}
	if _, err := os.Stat(f.cfg.Paths.OutputDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("plan must not create the output directory")
	}
}

func TestPlanRejectsBadOptions(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	cases := []pipeline.Options{
		{},
		{Manifest: f.manifest, Sides: -1},
		{Manifest: f.manifest, ImageName: "dir/image.bin"},
		{Manifest: filepath.Join(t.TempDir(), "absent.yaml")},
	}
	for _, opts := range cases {
		if _, err := f.pipeline().Plan(context.Background(), opts); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("options %+v: expected configuration error, got %v", opts, err)
		}
	}
}

type recordingNotifier struct {
	completed []notifications.BuildSummary
	failed    []error
}

func (r *recordingNotifier) NotifyBuildCompleted(_ context.Context, summary notifications.BuildSummary) error {
	r.completed = append(r.completed, summary)
	return nil
}

func (r *recordingNotifier) NotifyBuildFailed(_ context.Context, _ string, err error) error {
	r.failed = append(r.failed, err)
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestBuildNotifies(t *testing.T) {
	f := newFixture(t, bootRuntimeManifest)
	f.writeBootConfig(t)
	notifier := &recordingNotifier{}

	result, err := f.pipeline(pipeline.WithNotifier(notifier)).Build(context.Background(), pipeline.Options{Manifest: f.manifest})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(notifier.completed) != 1 || len(notifier.failed) != 0 {
		t.Fatalf("unexpected notifications %+v", notifier)
	}
	got := notifier.completed[0]
	if got.RunID != result.RunID || got.Image != result.Image || got.ImageSize != result.Digest.Size {
		t.Fatalf("summary %+v does not match result %+v", got, result)
	}

	f.tools.FailWith("flashbuild", 4)
	if _, err := f.pipeline(pipeline.WithNotifier(notifier)).Build(context.Background(), pipeline.Options{Manifest: f.manifest}); err == nil {
		t.Fatal("expected failure")
	}
	if len(notifier.failed) != 1 || services.ExitCode(notifier.failed[0]) != 4 {
		t.Fatalf("unexpected failure notifications %+v", notifier.failed)
	}
}
