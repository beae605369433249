package source

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/S-Ungurean/healthdeploy/internal/config"
)

type recordingRunner struct {
	calls   [][]string
	failOn  string
	failErr error
}

func (r *recordingRunner) Run(ctx context.Context, dir string, argv ...string) (string, error) {
	r.calls = append(r.calls, argv)
	for _, a := range argv {
		if r.failOn != "" && strings.Contains(a, r.failOn) {
			return "remote: authentication failed", r.failErr
		}
	}
	return "", nil
}

func collectorConfig(t *testing.T) config.Config {
	var cfg config.Config
	cfg.ApplyDefaults()
	cfg.Sources.Workspace = filepath.Join(t.TempDir(), "ws")
	cfg.Sources.Repos = []config.Repo{
		{Name: "health-dao", URL: "https://git.example.com/health/dao.git", Ref: "master"},
		{Name: "health-sao", URL: "https://git.example.com/health/sao.git", Ref: "master"},
		{Name: "health-backend", URL: "https://git.example.com/health/backend.git", Ref: "master"},
	}
	return cfg
}

func TestFetchShallowClonesEveryRepo(t *testing.T) {
	runner := &recordingRunner{}
	c := NewCollectorWithRunner(collectorConfig(t), runner, func() string { return "tok123" })

	if err := c.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 clones, got %d", len(runner.calls))
	}
	first := strings.Join(runner.calls[0], " ")
	if !strings.Contains(first, "--depth 1") {
		t.Errorf("expected shallow clone, got %q", first)
	}
	if !strings.Contains(first, "--branch master") {
		t.Errorf("expected pinned ref, got %q", first)
	}
	if !strings.Contains(first, "x-access-token:tok123@git.example.com") {
		t.Errorf("expected token injected into URL, got %q", first)
	}
}

func TestFetchStopsAtFirstFailure(t *testing.T) {
	runner := &recordingRunner{failOn: "sao.git", failErr: errors.New("exit status 128")}
	c := NewCollectorWithRunner(collectorConfig(t), runner, func() string { return "" })

	err := c.Fetch(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Repo != "health-sao" {
		t.Errorf("unexpected failing repo: %s", fe.Repo)
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected fetch to halt, got %d clone attempts", len(runner.calls))
	}
}

func TestAuthURLLeavesSSHRemotesAlone(t *testing.T) {
	got := authURL("git@git.example.com:health/dao.git", "tok")
	if got != "git@git.example.com:health/dao.git" {
		t.Errorf("ssh remote rewritten: %q", got)
	}
}
