package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/S-Ungurean/healthdeploy/internal/artifact"
	"github.com/S-Ungurean/healthdeploy/internal/config"
)

type fakeRunner struct {
	calls    [][]string
	failArgv string
}

func (r *fakeRunner) Run(ctx context.Context, dir string, argv ...string) (string, error) {
	r.calls = append(r.calls, argv)
	if r.failArgv != "" && strings.Contains(strings.Join(argv, " "), r.failArgv) {
		return "BUILD FAILED", errors.New("exit status 1")
	}
	return "BUILD SUCCESSFUL", nil
}

func builderConfig(t *testing.T) config.Config {
	var cfg config.Config
	cfg.ApplyDefaults()
	ws := filepath.Join(t.TempDir(), "ws")
	if err := os.MkdirAll(filepath.Join(ws, "config"), 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws, "config", "frontend.conf"), []byte("server {}"), 0o644); err != nil {
		t.Fatalf("write frontend.conf: %v", err)
	}
	cfg.Sources.Workspace = ws
	cfg.Build.FrontendSrc = filepath.Join("config", "frontend.conf")
	cfg.Build.Projects = []config.Project{
		{Name: "health-dao", Dir: "health-dao", Argv: []string{"./gradlew", "build", "-x", "test"}},
		{Name: "health-sao", Dir: "health-sao", Argv: []string{"./gradlew", "build", "-x", "test"}},
		{Name: "health-backend", Dir: "health-backend", Argv: []string{"./gradlew", "build", "-x", "test"}},
	}
	return cfg
}

func TestBuildRunsProjectsInOrder(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBuilderWithRunner(builderConfig(t), artifact.NewMemStore(), runner)
	if err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 build invocations, got %d", len(runner.calls))
	}
}

func TestBuildFailureAbortsWithoutUpload(t *testing.T) {
	store := artifact.NewMemStore()
	runner := &fakeRunner{failArgv: "gradlew"}
	cfg := builderConfig(t)
	b := NewBuilderWithRunner(cfg, store, runner)

	err := b.Run(context.Background())
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if be.Project != "health-dao" {
		t.Errorf("unexpected failing project: %s", be.Project)
	}
	if len(runner.calls) != 1 {
		t.Errorf("expected build to stop at first failure, got %d calls", len(runner.calls))
	}
	if _, err := store.Stat(context.Background(), cfg.Build.ArchiveKey); err == nil {
		t.Fatalf("archive must not be uploaded after a failed build")
	}
}

func TestPackageUploadsArchiveAndFrontendConfig(t *testing.T) {
	store := artifact.NewMemStore()
	cfg := builderConfig(t)
	b := NewBuilderWithRunner(cfg, store, &fakeRunner{})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	info, err := store.Stat(context.Background(), cfg.Build.ArchiveKey)
	if err != nil {
		t.Fatalf("archive missing from store: %v", err)
	}
	if info.Size == 0 {
		t.Errorf("archive is empty")
	}
	if _, err := store.Stat(context.Background(), cfg.Build.FrontendKey); err != nil {
		t.Fatalf("frontend config missing from store: %v", err)
	}
}
