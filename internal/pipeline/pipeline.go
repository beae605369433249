package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/S-Ungurean/healthdeploy/internal/build"
	"github.com/S-Ungurean/healthdeploy/internal/dispatch"
	"github.com/S-Ungurean/healthdeploy/internal/source"
	"github.com/S-Ungurean/healthdeploy/internal/store"
	"github.com/S-Ungurean/healthdeploy/internal/telemetry"
	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

// Stage is one ordered unit of pipeline execution. A stage must fully
// succeed before the next one starts.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncStage adapts a function into a Stage.
type FuncStage struct {
	StageName string
	Fn        func(ctx context.Context) error
}

func (s FuncStage) Name() string                  { return s.StageName }
func (s FuncStage) Run(ctx context.Context) error { return s.Fn(ctx) }

// Runner executes stages strictly in order, halting at the first failure.
// No error is caught and retried anywhere: every failure surfaces as a
// failed run visible to operators, who re-run manually.
type Runner struct {
	stages  []Stage
	history *store.Store
}

// NewRunner wires a runner. history may be nil for dry runs.
func NewRunner(stages []Stage, history *store.Store) *Runner {
	return &Runner{stages: stages, history: history}
}

// Run drives the pipeline once. The returned record is also persisted to
// the history store when one is configured.
func (r *Runner) Run(ctx context.Context) (api.RunRecord, error) {
	run := api.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}
	log.Info().Str("run_id", run.ID).Int("stages", len(r.stages)).Msg("pipeline run starting")
	if r.history != nil {
		if err := r.history.BeginRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("cannot record run start")
		}
	}

	for i, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, run, stage.Name(), err)
		}
		rec := api.StageRecord{
			RunID: run.ID, Ordinal: i, Stage: stage.Name(),
			StartedAt: time.Now().UTC(),
		}
		log.Info().Str("run_id", run.ID).Str("stage", stage.Name()).Int("ordinal", i).Msg("stage starting")
		err := stage.Run(ctx)
		rec.FinishedAt = time.Now().UTC()
		telemetry.TimerGlobal("healthdeploy_stage_duration", rec.FinishedAt.Sub(rec.StartedAt), map[string]string{
			"stage": stage.Name(),
		})
		if err != nil {
			rec.Status = "failed"
			rec.Error = err.Error()
			r.saveStage(ctx, rec)
			return r.finish(ctx, run, stage.Name(), err)
		}
		rec.Status = "succeeded"
		r.saveStage(ctx, rec)
		log.Info().Str("run_id", run.ID).Str("stage", stage.Name()).Msg("stage succeeded")
	}

	run.Status = "succeeded"
	run.FinishedAt = time.Now().UTC()
	if r.history != nil {
		if err := r.history.FinishRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("cannot record run finish")
		}
	}
	telemetry.CounterGlobal("healthdeploy_runs_succeeded", 1, nil)
	log.Info().Str("run_id", run.ID).Msg("pipeline run succeeded")
	return run, nil
}

func (r *Runner) saveStage(ctx context.Context, rec api.StageRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveStage(ctx, rec); err != nil {
		log.Warn().Err(err).Str("stage", rec.Stage).Msg("cannot record stage result")
	}
}

func (r *Runner) finish(ctx context.Context, run api.RunRecord, stage string, err error) (api.RunRecord, error) {
	run.Status = Classify(err)
	run.FailedStage = stage
	run.Error = err.Error()
	run.FinishedAt = time.Now().UTC()
	if r.history != nil {
		if ferr := r.history.FinishRun(ctx, run); ferr != nil {
			log.Warn().Err(ferr).Msg("cannot record run finish")
		}
	}
	telemetry.CounterGlobal("healthdeploy_runs_failed", 1, map[string]string{
		"stage":  stage,
		"status": run.Status,
	})
	log.Error().Str("run_id", run.ID).Str("stage", stage).Str("status", run.Status).Err(err).Msg("pipeline run failed")
	return run, err
}

// Classify maps a stage failure onto the run-status taxonomy. The timeout
// classification stays distinct from a plain command failure: after a
// timeout the target machine state is unknown rather than known-bad.
func Classify(err error) string {
	var fetchErr *source.FetchError
	var buildErr *build.BuildError
	var cmdFailed *dispatch.CommandFailedError
	var cmdTimeout *dispatch.CommandTimeoutError
	switch {
	case errors.As(err, &fetchErr):
		return "fetch-error"
	case errors.As(err, &buildErr):
		return "build-error"
	case errors.As(err, &cmdFailed):
		return "command-failed"
	case errors.As(err, &cmdTimeout):
		return "command-timeout"
	default:
		return "error"
	}
}
