package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/S-Ungurean/healthdeploy/internal/artifact"
	"github.com/S-Ungurean/healthdeploy/internal/build"
	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/deploy"
	"github.com/S-Ungurean/healthdeploy/internal/dispatch"
	"github.com/S-Ungurean/healthdeploy/internal/fleet"
	"github.com/S-Ungurean/healthdeploy/internal/pipeline"
	"github.com/S-Ungurean/healthdeploy/internal/source"
	"github.com/S-Ungurean/healthdeploy/internal/sshx"
	"github.com/S-Ungurean/healthdeploy/internal/store"
	"github.com/S-Ungurean/healthdeploy/internal/telemetry"
)

// Resolve configuration and ambient services
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.MergeSecrets()
	telemetry.InitGlobal(cfg.Telemetry.Enabled)
	return cfg, nil
}

// Resolve the dispatcher over the configured transport
func resolveDispatcher(cfg config.Config) *dispatch.Dispatcher {
	inv := fleet.NewInventory(cfg)
	var transport dispatch.Transport
	if cfg.Dispatch.Transport == "agent" {
		transport = dispatch.NewAgentTransport(cfg)
	} else {
		transport = dispatch.NewSSHTransport(cfg)
	}
	return dispatch.New(cfg, inv, transport)
}

// Assemble the full pipeline from configuration
func resolvePipeline(cfg config.Config) (*pipeline.Runner, *store.Store, error) {
	objects, err := artifact.NewMinioStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	hist, err := store.New(cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}
	collector := source.NewCollector(cfg)
	builder := build.NewBuilder(cfg, objects)
	executor := deploy.NewExecutor(cfg, objects, resolveDispatcher(cfg))
	stages := pipeline.Stages(collector, builder, executor)
	return pipeline.NewRunner(stages, hist), hist, nil
}

// Run the whole pipeline
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: fetch, build, deploy, test",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			defer telemetry.Shutdown()
			runner, hist, err := resolvePipeline(cfg)
			if err != nil {
				return err
			}
			defer hist.Close()
			run, err := runner.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("run %s failed at %s: %w", run.ID, run.FailedStage, err)
			}
			fmt.Printf("run %s succeeded in %s\n", run.ID, run.FinishedAt.Sub(run.StartedAt).Round(0))
			return nil
		},
	}
}

// Run one stage in isolation
func newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "stage <source|package|deploy|test>",
		Short:     "Run a single pipeline stage",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"source", "package", "deploy", "test"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			defer telemetry.Shutdown()
			objects, err := artifact.NewMinioStore(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch args[0] {
			case "source":
				return source.NewCollector(cfg).Fetch(ctx)
			case "package":
				return build.NewBuilder(cfg, objects).Run(ctx)
			case "deploy":
				return deploy.NewExecutor(cfg, objects, resolveDispatcher(cfg)).Deploy(ctx)
			case "test":
				return deploy.NewExecutor(cfg, objects, resolveDispatcher(cfg)).Test(ctx)
			default:
				return fmt.Errorf("unknown stage: %s", args[0])
			}
		},
	}
}

// Run an ad-hoc command on the tagged fleet
func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Send an ad-hoc command to the tagged fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			defer telemetry.Shutdown()
			command, _ := cmd.Flags().GetString("cmd")
			tagKey, _ := cmd.Flags().GetString("tag-key")
			tagValue, _ := cmd.Flags().GetString("tag-value")
			if tagKey == "" {
				tagKey = cfg.Fleet.TargetKey
			}
			if tagValue == "" {
				tagValue = cfg.Fleet.TargetValue
			}
			script := (&dispatch.Script{}).Append("exec", command)
			d := resolveDispatcher(cfg)
			h, status, err := d.Run(cmd.Context(), dispatch.Request{
				TargetKey:   tagKey,
				TargetValue: tagValue,
				Script:      script,
			})
			if h != nil {
				for _, r := range h.Results() {
					fmt.Printf("%s\t%s\texit=%d\n", r.Node, r.Status, r.ExitCode)
					if out := strings.TrimSpace(r.Output); out != "" {
						fmt.Println(out)
					}
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("command finished: %s\n", status)
			return nil
		},
	}
	cmd.Flags().String("cmd", "", "shell command to run on each node")
	cmd.Flags().String("tag-key", "", "fleet tag key (defaults to configured target)")
	cmd.Flags().String("tag-value", "", "fleet tag value (defaults to configured target)")
	_ = cmd.MarkFlagRequired("cmd")
	return cmd
}

// Seed the frontend config to the fleet over SFTP
func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the stored frontend config to the tagged fleet over SFTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			defer telemetry.Shutdown()
			tagKey, _ := cmd.Flags().GetString("tag-key")
			tagValue, _ := cmd.Flags().GetString("tag-value")
			if tagKey == "" {
				tagKey = cfg.Fleet.TargetKey
			}
			if tagValue == "" {
				tagValue = cfg.Fleet.TargetValue
			}
			nodes := fleet.NewInventory(cfg).SelectByTag(tagKey, tagValue)
			objects, err := artifact.NewMinioStore(cfg)
			if err != nil {
				return err
			}
			executor := deploy.NewExecutor(cfg, objects, nil)
			if err := executor.SeedFrontend(cmd.Context(), nodes, deploy.NewSFTPPusher(cfg)); err != nil {
				return err
			}
			fmt.Printf("frontend config pushed to %d nodes\n", len(nodes))
			return nil
		},
	}
	cmd.Flags().String("tag-key", "", "fleet tag key (defaults to configured target)")
	cmd.Flags().String("tag-value", "", "fleet tag value (defaults to configured target)")
	return cmd
}

// List the fleet inventory
func newFleetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fleet",
		Short: "List configured fleet nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			inv := fleet.NewInventory(cfg)
			for _, n := range inv.All() {
				tags := make([]string, 0, len(n.Tags))
				for k, v := range n.Tags {
					tags = append(tags, k+"="+v)
				}
				sort.Strings(tags)
				fmt.Printf("%s\t%s\t%s\n", n.Name, n.Addr(), strings.Join(tags, ","))
			}
			return nil
		},
	}
}

// Show past runs
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			hist, err := store.New(cfg.History.Path)
			if err != nil {
				return err
			}
			defer hist.Close()
			if runID, _ := cmd.Flags().GetString("run"); runID != "" {
				stages, err := hist.ListStages(cmd.Context(), runID)
				if err != nil {
					return err
				}
				for _, s := range stages {
					line := fmt.Sprintf("%d\t%s\t%s\t%s", s.Ordinal, s.Stage, s.Status, s.FinishedAt.Sub(s.StartedAt).Round(0))
					if s.Error != "" {
						line += "\t" + s.Error
					}
					fmt.Println(line)
				}
				return nil
			}
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := hist.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s\t%s\t%s", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status)
				if r.FailedStage != "" {
					line += "\t" + r.FailedStage
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to show")
	cmd.Flags().String("run", "", "show stage results for one run id")
	return cmd
}

const defaultConfigYAML = `store:
  endpoint: "localhost:9000"
  use_ssl: false
  bucket: "health-artifacts"
fleet:
  target_key: "HealthEnv"
  target_value: "dev"
  hosts: []
sources:
  repos: []
build:
  projects: []
deploy:
  domain: ""
  cert_email: ""
dispatch:
  command_timeout_seconds: 600
  poll_interval_seconds: 30
  transport: "ssh"
`

// Initialize configuration and SSH material
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "healthdeploy initialization command. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = config.DefaultPath()
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o600); err != nil {
					return err
				}
				fmt.Printf("wrote default config to %s\n", cfgPath)
			} else {
				fmt.Printf("config already present at %s\n", cfgPath)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			keyPath := filepath.Join(cfg.SSH.KeyDir, "id_ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				pub, err := sshx.GenerateEd25519Keypair(keyPath)
				if err != nil {
					return err
				}
				fmt.Printf("generated SSH key %s\npublic key: %s\n", keyPath, strings.TrimSpace(pub))
			}
			if err := sshx.EnsureKnownHostsFile(cfg.SSH.KnownHosts); err != nil {
				return err
			}
			return nil
		},
	}
}
