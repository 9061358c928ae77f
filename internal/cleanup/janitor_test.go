package cleanup

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"videoserver/internal/jobs"
	"videoserver/internal/storage"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestTick_NoOpWhenFreeSpaceIsSufficient(t *testing.T) {
	dir := t.TempDir()
	layout := storage.New(dir)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	reg := jobs.New(discardLogger())
	id, _ := reg.Create(context.Background(), jobs.PlanFetchTranscodeFinalize)
	_ = reg.Transition(id, jobs.StageFetching)
	_ = reg.Transition(id, jobs.StageTranscoding)
	_ = reg.Transition(id, jobs.StageFinalizing)
	_ = reg.Complete(id)

	if err := os.MkdirAll(layout.HLSDirFor(id), 0o755); err != nil {
		t.Fatalf("seed rendition dir: %v", err)
	}

	j := New(Config{MinFreeBytes: 1, MinFreeRatio: 0, BatchSize: 5, Interval: time.Hour}, layout, reg, discardLogger(),
		func(string) (uint64, uint64, error) { return 1_000_000, 1_000_000, nil })
	j.Tick()

	if _, err := os.Stat(layout.HLSDirFor(id)); err != nil {
		t.Fatalf("expected rendition dir untouched when space is sufficient: %v", err)
	}
}

func TestTick_PrunesOldestTerminalJobsFirst(t *testing.T) {
	dir := t.TempDir()
	layout := storage.New(dir)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	reg := jobs.New(discardLogger())

	older, _ := reg.Create(context.Background(), jobs.PlanFetchTranscodeFinalize)
	for _, stage := range []jobs.Stage{jobs.StageFetching, jobs.StageTranscoding, jobs.StageFinalizing} {
		_ = reg.Transition(older, stage)
	}
	_ = reg.Complete(older)

	time.Sleep(5 * time.Millisecond)

	newer, _ := reg.Create(context.Background(), jobs.PlanFetchTranscodeFinalize)
	for _, stage := range []jobs.Stage{jobs.StageFetching, jobs.StageTranscoding, jobs.StageFinalizing} {
		_ = reg.Transition(newer, stage)
	}
	_ = reg.Complete(newer)

	if err := os.MkdirAll(layout.HLSDirFor(older), 0o755); err != nil {
		t.Fatalf("seed older rendition dir: %v", err)
	}
	if err := os.MkdirAll(layout.HLSDirFor(newer), 0o755); err != nil {
		t.Fatalf("seed newer rendition dir: %v", err)
	}

	j := New(Config{MinFreeBytes: 1 << 40, MinFreeRatio: 0, BatchSize: 1, Interval: time.Hour}, layout, reg, discardLogger(),
		func(string) (uint64, uint64, error) { return 1, 1_000_000, nil })
	j.Tick()

	if _, err := os.Stat(layout.HLSDirFor(older)); !os.IsNotExist(err) {
		t.Fatalf("expected the older job's rendition cache to be pruned first")
	}
	if _, err := os.Stat(layout.HLSDirFor(newer)); err != nil {
		t.Fatalf("expected the newer job's rendition cache to survive a batch-size-1 pass: %v", err)
	}
}

func TestTick_NeverPrunesActiveJobs(t *testing.T) {
	dir := t.TempDir()
	layout := storage.New(dir)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	reg := jobs.New(discardLogger())

	active, _ := reg.Create(context.Background(), jobs.PlanFetchTranscodeFinalize)
	_ = reg.Transition(active, jobs.StageFetching)

	if err := os.MkdirAll(layout.HLSDirFor(active), 0o755); err != nil {
		t.Fatalf("seed active rendition dir: %v", err)
	}

	j := New(Config{MinFreeBytes: 1 << 40, MinFreeRatio: 0, BatchSize: 5, Interval: time.Hour}, layout, reg, discardLogger(),
		func(string) (uint64, uint64, error) { return 1, 1_000_000, nil })
	j.Tick()

	if _, err := os.Stat(layout.HLSDirFor(active)); err != nil {
		t.Fatalf("active job's rendition cache must never be pruned: %v", err)
	}
}
