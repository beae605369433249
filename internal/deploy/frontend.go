package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/fleet"
	"github.com/S-Ungurean/healthdeploy/internal/sshx"
)

// FilePusher copies one local file onto a node. SFTP is the production
// implementation; tests substitute a recorder.
type FilePusher interface {
	Push(ctx context.Context, node fleet.Node, localPath, remotePath string) error
}

// SFTPPusher pushes files over the fleet's SSH channel.
type SFTPPusher struct {
	KeyDir     string
	KnownHosts string
	Retries    int
}

// NewSFTPPusher builds the pusher from the SSH config section.
func NewSFTPPusher(cfg config.Config) *SFTPPusher {
	return &SFTPPusher{
		KeyDir:     cfg.SSH.KeyDir,
		KnownHosts: cfg.SSH.KnownHosts,
		Retries:    cfg.SSH.Retries,
	}
}

func (p *SFTPPusher) Push(ctx context.Context, node fleet.Node, localPath, remotePath string) error {
	signer, err := sshx.LoadPrivateKeySigner(filepath.Join(p.KeyDir, "id_ed25519"))
	if err != nil {
		return fmt.Errorf("load ssh key: %w", err)
	}
	kh, err := sshx.LoadKnownHostsCallback(p.KnownHosts)
	if err != nil {
		return fmt.Errorf("load known hosts: %w", err)
	}
	client := &sshx.Client{
		Addr:       node.Addr(),
		User:       node.SSHUser,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    30 * time.Second,
		Retries:    p.Retries,
		Backoff:    500 * time.Millisecond,
	}
	cli, err := sshx.Dial(ctx, client)
	if err != nil {
		return err
	}
	defer cli.Close()
	return sshx.PushFile(ctx, cli, localPath, remotePath)
}

// SeedFrontend downloads the stored reverse-proxy config and pushes it onto
// every target node, where the extracted compose stack mounts it. The first
// failed node aborts; re-running is idempotent since the remote file is
// simply overwritten.
func (e *Executor) SeedFrontend(ctx context.Context, nodes []fleet.Node, pusher FilePusher) error {
	if len(nodes) == 0 {
		return fmt.Errorf("seed frontend: no target nodes")
	}
	rc, info, err := e.store.Get(ctx, e.cfg.Build.FrontendKey)
	if err != nil {
		return fmt.Errorf("fetch frontend config: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "frontend-*.conf")
	if err != nil {
		return fmt.Errorf("stage frontend config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("stage frontend config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage frontend config: %w", err)
	}

	remote := path.Join(e.cfg.Deploy.WorkDir, "nginx", e.cfg.Build.FrontendKey)
	for _, n := range nodes {
		if err := pusher.Push(ctx, n, tmp.Name(), remote); err != nil {
			return fmt.Errorf("push frontend config to %s: %w", n.Name, err)
		}
		log.Info().
			Str("node", n.Name).
			Str("remote", remote).
			Int64("bytes", info.Size).
			Msg("frontend config seeded")
	}
	return nil
}
