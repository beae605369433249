package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id := uuid.NewString()
	started := time.Now().UTC().Truncate(time.Second)
	if err := s.BeginRun(ctx, api.RunRecord{ID: id, StartedAt: started, Status: "running"}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.FinishRun(ctx, api.RunRecord{
		ID: id, FinishedAt: started.Add(10 * time.Minute),
		Status: "failed", FailedStage: "DeployToDev", Error: "remote command failed",
	}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != "failed" || runs[0].FailedStage != "DeployToDev" {
		t.Errorf("unexpected run record: %+v", runs[0])
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := testStore(t)
	err := s.FinishRun(context.Background(), api.RunRecord{ID: "nope", Status: "succeeded"})
	if err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestStageResultsOrdered(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id := uuid.NewString()
	now := time.Now().UTC()
	if err := s.BeginRun(ctx, api.RunRecord{ID: id, StartedAt: now, Status: "running"}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	for i, name := range []string{"Source", "Package", "DeployToDev"} {
		if err := s.SaveStage(ctx, api.StageRecord{
			RunID: id, Ordinal: i, Stage: name, Status: "succeeded",
			StartedAt: now.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("SaveStage: %v", err)
		}
	}

	stages, err := s.ListStages(ctx, id)
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	for i, want := range []string{"Source", "Package", "DeployToDev"} {
		if stages[i].Stage != want {
			t.Errorf("stage %d: expected %s, got %s", i, want, stages[i].Stage)
		}
	}
}
