package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/S-Ungurean/healthdeploy/internal/config"
)

// FetchError is a fatal source checkout failure: authentication rejected,
// network unreachable, or an unknown ref. It aborts the pipeline.
type FetchError struct {
	Repo string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Repo, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Runner executes an external tool in a directory. Injected so tests never
// spawn real processes.
type Runner interface {
	Run(ctx context.Context, dir string, argv ...string) (string, error)
}

// ExecRunner shells out for real use.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, argv ...string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Collector checks out every tracked repository at a fixed ref into the
// scratch workspace. History is not needed, so clones are shallow.
type Collector struct {
	workspace string
	repos     []config.Repo
	runner    Runner
	// token resolves the source-control access token at execution time so
	// it never outlives the stage outside the scratch space.
	token func() string
}

// NewCollector builds the collector from config with the real exec runner.
func NewCollector(cfg config.Config) *Collector {
	return &Collector{
		workspace: cfg.Sources.Workspace,
		repos:     cfg.Sources.Repos,
		runner:    ExecRunner{},
		token:     func() string { return config.Secret(config.SecretGitToken) },
	}
}

// NewCollectorWithRunner is NewCollector with an injected runner and token.
func NewCollectorWithRunner(cfg config.Config, r Runner, token func() string) *Collector {
	c := NewCollector(cfg)
	c.runner = r
	if token != nil {
		c.token = token
	}
	return c
}

// Workspace returns the scratch directory trees are checked out into.
func (c *Collector) Workspace() string { return c.workspace }

// Fetch checks out all repositories in order. The first failure aborts with
// a FetchError; later repositories are not attempted.
func (c *Collector) Fetch(ctx context.Context) error {
	if err := os.RemoveAll(c.workspace); err != nil {
		return fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(c.workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	token := c.token()
	for _, repo := range c.repos {
		log.Info().Str("repo", repo.Name).Str("ref", repo.Ref).Msg("fetching source tree")
		argv := cloneArgs(repo, token, filepath.Join(c.workspace, repo.Name))
		if out, err := c.runner.Run(ctx, c.workspace, argv...); err != nil {
			log.Error().Str("repo", repo.Name).Str("output", redactToken(out, token)).Msg("source fetch failed")
			return &FetchError{Repo: repo.Name, Err: err}
		}
	}
	return nil
}

// cloneArgs builds the shallow clone command for one repository.
func cloneArgs(repo config.Repo, token, dest string) []string {
	argv := []string{"git", "clone", "--depth", "1"}
	if repo.Ref != "" {
		argv = append(argv, "--branch", repo.Ref)
	}
	return append(argv, authURL(repo.URL, token), dest)
}

// authURL injects the access token into an https clone URL. Non-https URLs
// (ssh remotes) are returned unchanged.
func authURL(raw, token string) string {
	if token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return raw
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}

func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return bytes.NewBuffer(bytes.ReplaceAll([]byte(s), []byte(token), []byte("****"))).String()
}
