package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/S-Ungurean/healthdeploy/internal/artifact"
	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/dispatch"
	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

// Executor composes the deployment and integration-test commands and runs
// them against the tagged fleet through the dispatcher. Deployment is
// stop-then-replace: once containers are torn down there is no rollback,
// and a failed verification leaves the fleet degraded until the next
// successful run.
type Executor struct {
	cfg        config.Config
	store      artifact.Store
	dispatcher *dispatch.Dispatcher
}

// NewExecutor wires the executor to its collaborators.
func NewExecutor(cfg config.Config, store artifact.Store, d *dispatch.Dispatcher) *Executor {
	return &Executor{cfg: cfg, store: store, dispatcher: d}
}

// DeployScript builds the structured deployment descriptor. archiveURL is a
// presigned store URL the fleet fetches the workspace archive from.
func (e *Executor) DeployScript(archiveURL string) *dispatch.Script {
	d := e.cfg.Deploy
	s := &dispatch.Script{}

	// The proxy may not be running yet on a fresh node.
	s.AppendAllowFail("stop-proxy", "sudo service nginx stop")
	s.Append("issue-cert", fmt.Sprintf(
		"sudo certbot certonly --webroot -w /var/www/html -d %s -m %s --agree-tos -n --keep-until-expiring",
		d.Domain, d.CertEmail))
	if d.RegisterRenewCron {
		s.AppendAllowFail("renew-cron", `( sudo crontab -l 2>/dev/null | grep -v 'certbot renew'; echo '0 3 * * * certbot renew -q' ) | sudo crontab -`)
	}
	s.Append("install-compose", fmt.Sprintf(
		"command -v docker-compose >/dev/null 2>&1 || { sudo curl -fsSL https://github.com/docker/compose/releases/download/%s/docker-compose-$(uname -s)-$(uname -m) -o /usr/local/bin/docker-compose && sudo chmod +x /usr/local/bin/docker-compose; }",
		d.ComposeVersion))
	s.Append("fetch-archive", fmt.Sprintf("curl -fsSL '%s' -o /tmp/docker_workspace.tar.gz", archiveURL))
	s.Append("extract", fmt.Sprintf(
		"sudo rm -rf %[1]s && sudo mkdir -p %[1]s && sudo tar -xzf /tmp/docker_workspace.tar.gz -C %[1]s",
		d.WorkDir))
	s.Append("restart-containers", fmt.Sprintf(
		"cd %s/docker && { sudo docker-compose down --remove-orphans || true; } && sudo docker-compose up -d --build --force-recreate",
		d.WorkDir))
	s.Append("warm-up", fmt.Sprintf("sleep %d", d.WarmupSeconds))
	s.Append("verify-processes", verifyCmd(d.Processes))
	return s
}

// IntegrationScript re-verifies the running processes and invokes the
// integration-test target. A non-zero exit anywhere fails the stage; no
// individual test is retried.
func (e *Executor) IntegrationScript() *dispatch.Script {
	d := e.cfg.Deploy
	s := &dispatch.Script{}
	s.Append("verify-processes", verifyCmd(d.Processes))
	s.Append("run-tests", fmt.Sprintf("cd %s && sudo make %s", d.WorkDir, d.TestTarget))
	return s
}

// Deploy runs the deployment command on every node tagged for the target
// environment and blocks until terminal status.
func (e *Executor) Deploy(ctx context.Context) error {
	url, err := e.store.PresignGet(ctx, e.cfg.Build.ArchiveKey, e.cfg.CommandTimeout()+5*time.Minute)
	if err != nil {
		return fmt.Errorf("presign archive: %w", err)
	}
	h, st, err := e.dispatcher.Run(ctx, dispatch.Request{
		TargetKey:   e.cfg.Fleet.TargetKey,
		TargetValue: e.cfg.Fleet.TargetValue,
		Script:      e.DeployScript(url),
	})
	e.logSteps(h, "deploy")
	if err != nil {
		return err
	}
	if st != api.StatusSuccess {
		return fmt.Errorf("deploy ended with status %s", st)
	}
	return nil
}

// Test runs the integration-test command against the deployed stack.
func (e *Executor) Test(ctx context.Context) error {
	h, st, err := e.dispatcher.Run(ctx, dispatch.Request{
		TargetKey:   e.cfg.Fleet.TargetKey,
		TargetValue: e.cfg.Fleet.TargetValue,
		Script:      e.IntegrationScript(),
	})
	e.logSteps(h, "integration-tests")
	if err != nil {
		return err
	}
	if st != api.StatusSuccess {
		return fmt.Errorf("integration tests ended with status %s", st)
	}
	return nil
}

// logSteps surfaces per-step status per node so a failure after the
// destructive teardown is attributable to a specific step.
func (e *Executor) logSteps(h *dispatch.Handle, command string) {
	if h == nil {
		return
	}
	for node, steps := range h.StepResults() {
		for _, st := range steps {
			log.Info().
				Str("command", command).
				Str("node", node).
				Str("step", st.Name).
				Str("status", string(st.Status)).
				Msg("remote step")
		}
	}
}
