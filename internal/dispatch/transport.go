package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/fleet"
	"github.com/S-Ungurean/healthdeploy/internal/sshx"
)

// Transport executes one rendered script on one node and reports the exit
// code. Implementations must honor the timeout on the remote side as well,
// so an unreachable dispatcher cannot leave a command running forever.
type Transport interface {
	Exec(ctx context.Context, node fleet.Node, script string, timeout time.Duration) (output string, exitCode int, err error)
}

// SSHTransport runs scripts over SSH, the default for fleets without agents.
type SSHTransport struct {
	KeyDir     string
	KnownHosts string
	Retries    int
}

// NewSSHTransport builds the transport from the SSH config section.
func NewSSHTransport(cfg config.Config) *SSHTransport {
	return &SSHTransport{
		KeyDir:     cfg.SSH.KeyDir,
		KnownHosts: cfg.SSH.KnownHosts,
		Retries:    cfg.SSH.Retries,
	}
}

func (t *SSHTransport) Exec(ctx context.Context, node fleet.Node, script string, timeout time.Duration) (string, int, error) {
	signer, err := sshx.LoadPrivateKeySigner(filepath.Join(t.KeyDir, "id_ed25519"))
	if err != nil {
		return "", -1, fmt.Errorf("load ssh key: %w", err)
	}
	kh, err := sshx.LoadKnownHostsCallback(t.KnownHosts)
	if err != nil {
		return "", -1, fmt.Errorf("load known hosts: %w", err)
	}
	client := &sshx.Client{
		Addr:       node.Addr(),
		User:       node.SSHUser,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    30 * time.Second,
		Retries:    t.Retries,
		Backoff:    500 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// The remote shell enforces the same budget so the command dies with us.
	wrapped := fmt.Sprintf("timeout %d sh -s <<'HDEOF'\n%sHDEOF", int(timeout.Seconds()), script)
	return client.Run(ctx, wrapped)
}

// AgentTransport runs scripts through the healthdeploy-agent's exec endpoint
// on fleets where inbound SSH is closed.
type AgentTransport struct {
	Port   int
	Token  string
	Client *http.Client
}

// NewAgentTransport builds the transport from the dispatch config section.
// The bearer token comes from the secret store, never from YAML.
func NewAgentTransport(cfg config.Config) *AgentTransport {
	return &AgentTransport{
		Port:   cfg.Dispatch.AgentPort,
		Token:  config.Secret(config.SecretAgentToken),
		Client: &http.Client{},
	}
}

type agentExecRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Timeout int      `json:"timeout_seconds"`
	Input   string   `json:"input"`
}

type agentExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Duration int64  `json:"duration_ms"`
}

func (t *AgentTransport) Exec(ctx context.Context, node fleet.Node, script string, timeout time.Duration) (string, int, error) {
	// The script travels on stdin like the SSH transport's heredoc, so its
	// quoting never has to survive argv embedding.
	body, err := json.Marshal(agentExecRequest{
		Command: "sh",
		Args:    []string{"-s"},
		Timeout: int(timeout.Seconds()),
		Input:   script,
	})
	if err != nil {
		return "", -1, fmt.Errorf("marshal exec request: %w", err)
	}
	url := fmt.Sprintf("http://%s:%d/v0/exec", node.IP, t.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", -1, fmt.Errorf("create exec request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", -1, fmt.Errorf("agent exec: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", -1, fmt.Errorf("agent exec status %d", resp.StatusCode)
	}
	var out agentExecResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", -1, fmt.Errorf("decode exec response: %w", err)
	}
	return out.Stdout, out.ExitCode, nil
}
