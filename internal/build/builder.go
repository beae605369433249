package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/S-Ungurean/healthdeploy/internal/artifact"
	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/source"
	"github.com/S-Ungurean/healthdeploy/internal/telemetry"
)

// BuildError is a fatal build failure: one project's own build tool returned
// non-zero. The stage aborts; nothing is uploaded.
type BuildError struct {
	Project string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Project, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder compiles every project in the workspace with its own build tool,
// then packages the whole workspace into one archive and uploads it together
// with the reverse-proxy config. There are no partial-success semantics.
type Builder struct {
	workspace   string
	projects    []config.Project
	archiveKey  string
	frontendKey string
	frontendSrc string
	store       artifact.Store
	runner      source.Runner
}

// NewBuilder builds from config with the real exec runner.
func NewBuilder(cfg config.Config, store artifact.Store) *Builder {
	return &Builder{
		workspace:   cfg.Sources.Workspace,
		projects:    cfg.Build.Projects,
		archiveKey:  cfg.Build.ArchiveKey,
		frontendKey: cfg.Build.FrontendKey,
		frontendSrc: cfg.Build.FrontendSrc,
		store:       store,
		runner:      source.ExecRunner{},
	}
}

// NewBuilderWithRunner is NewBuilder with an injected command runner.
func NewBuilderWithRunner(cfg config.Config, store artifact.Store, r source.Runner) *Builder {
	b := NewBuilder(cfg, store)
	b.runner = r
	return b
}

// Build runs each project's build tool in sequence, outputs in place.
// Tests are skipped here; the pipeline runs them against the deployed
// stack instead.
func (b *Builder) Build(ctx context.Context) error {
	for _, p := range b.projects {
		start := time.Now()
		dir := filepath.Join(b.workspace, p.Dir)
		log.Info().Str("project", p.Name).Strs("argv", p.Argv).Msg("building project")
		out, err := b.runner.Run(ctx, dir, p.Argv...)
		telemetry.TimerGlobal("healthdeploy_build_duration", time.Since(start), map[string]string{
			"project": p.Name,
		})
		if err != nil {
			log.Error().Str("project", p.Name).Str("output", out).Msg("build failed")
			return &BuildError{Project: p.Name, Err: err}
		}
	}
	return nil
}

// Package archives the workspace and uploads archive plus frontend config to
// the artifact store under their fixed keys, overwriting the previous run.
func (b *Builder) Package(ctx context.Context) error {
	tmp, err := os.CreateTemp("", "healthdeploy-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create archive temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := Pack(b.workspace, tmp); err != nil {
		return err
	}
	sum, err := Checksum(tmp.Name())
	if err != nil {
		return fmt.Errorf("checksum archive: %w", err)
	}
	stat, err := tmp.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}
	log.Info().Str("key", b.archiveKey).Int64("bytes", stat.Size()).Str("sha256", sum).Msg("uploading archive")
	if err := b.store.Put(ctx, b.archiveKey, tmp, stat.Size(), "application/gzip"); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	if b.frontendSrc != "" {
		f, err := os.Open(filepath.Join(b.workspace, b.frontendSrc))
		if err != nil {
			return fmt.Errorf("open frontend config: %w", err)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat frontend config: %w", err)
		}
		if err := b.store.Put(ctx, b.frontendKey, f, fi.Size(), "text/plain"); err != nil {
			return fmt.Errorf("upload frontend config: %w", err)
		}
	}
	return nil
}

// Run is Build followed by Package: the whole Package stage.
func (b *Builder) Run(ctx context.Context) error {
	if err := b.Build(ctx); err != nil {
		return err
	}
	return b.Package(ctx)
}
