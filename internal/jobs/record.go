package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	initialEstimateSeconds        = 45 * 60.0
	minStageProgressForEstimate   = 0.02
)

// ErrorDetail is the structured failure recorded on a job once it reaches
// StageFailed.
type ErrorDetail struct {
	Kind    string
	Message string
}

// Snapshot is an immutable, fully-derived view of a job suitable for
// handing to an HTTP reader without holding any lock.
type Snapshot struct {
	ID                uuid.UUID
	Stage             Stage
	OverallProgress   float64
	StageProgress     float64
	CurrentStageIndex *int
	TotalStages       int
	ElapsedSeconds    float64
	ETASeconds        *float64
	Error             *ErrorDetail
	StartedAtUnixMs   int64
	LastUpdateUnixMs  int64
}

// record is the mutable state backing one job. All access goes through the
// registry's per-record mutex; nothing outside this package ever sees a
// *record directly.
type record struct {
	mu sync.Mutex

	id   uuid.UUID
	plan Plan

	stage         Stage
	stageProgress float64

	startedAt    time.Time
	lastUpdate   time.Time
	stageStarted time.Time

	stageETASeconds *float64
	err             *ErrorDetail
}

func newRecord(id uuid.UUID, plan Plan) *record {
	now := time.Now()
	return &record{
		id:           id,
		plan:         plan,
		stage:        StageQueued,
		startedAt:    now,
		lastUpdate:   now,
		stageStarted: now,
	}
}

func (r *record) touch() {
	r.lastUpdate = time.Now()
}

func (r *record) setStage(stage Stage) {
	r.stage = stage
	r.stageProgress = 0
	r.stageStarted = time.Now()
	r.stageETASeconds = nil
	r.touch()
}

func (r *record) setStageProgress(progress float64) {
	progress = clamp01(progress)
	if progress < r.stageProgress {
		return // monotonic non-decrease within a stage
	}
	r.stageProgress = progress
	r.touch()
}

func (r *record) setStageETA(seconds *float64) {
	r.stageETASeconds = seconds
	r.touch()
}

func (r *record) fail(detail ErrorDetail) {
	r.stage = StageFailed
	r.err = &detail
	r.stageETASeconds = nil
	r.touch()
}

func (r *record) complete() {
	r.stage = StageComplete
	r.stageProgress = 1
	zero := 0.0
	r.stageETASeconds = &zero
	r.touch()
}

func (r *record) snapshot() Snapshot {
	overall, stageProgress, stageIndex, totalStages := r.progressMetrics()
	eta := r.estimateRemainingSeconds(stageProgress)

	return Snapshot{
		ID:                r.id,
		Stage:             r.stage,
		OverallProgress:   overall,
		StageProgress:      stageProgress,
		CurrentStageIndex: stageIndex,
		TotalStages:       totalStages,
		ElapsedSeconds:    r.lastUpdate.Sub(r.startedAt).Seconds(),
		ETASeconds:        eta,
		Error:             r.err,
		StartedAtUnixMs:   r.startedAt.UnixMilli(),
		LastUpdateUnixMs:  r.lastUpdate.UnixMilli(),
	}
}

// progressMetrics ports original_source's JobRecord::compute_progress_metrics
// verbatim: overall progress derived from the job's own plan length so that
// total_stages can legitimately vary between pipelines.
func (r *record) progressMetrics() (overall float64, stageProgress float64, stageIndex *int, totalStages int) {
	if r.stage == StageComplete {
		n := len(r.plan)
		idx := n
		return 1, 1, &idx, n
	}

	total := float64(len(r.plan))
	if total == 0 {
		sp := r.stageProgress
		if r.stage == StageFailed && sp > 1 {
			sp = 1
		}
		return sp, sp, nil, 0
	}

	if idx := r.plan.indexOf(r.stage); idx >= 0 {
		completed := float64(idx)
		sp := clamp01(r.stageProgress)
		overall := clamp01((completed + sp) / total)
		position := idx + 1
		return overall, sp, &position, len(r.plan)
	}

	sp := clamp01(r.stageProgress)
	switch r.stage {
	case StageFailed:
		return sp, sp, nil, len(r.plan)
	case StageQueued:
		return 0, sp, nil, len(r.plan)
	case StageFinalizing:
		return clamp01((total - 1 + r.stageProgress) / total), sp, nil, len(r.plan)
	case StageComplete:
		return 1, sp, nil, len(r.plan)
	default:
		return clamp01(r.stageProgress / total), sp, nil, len(r.plan)
	}
}

// estimateRemainingSeconds ports original_source's estimate_remaining_seconds:
// prefer a supervisor-reported ETA, otherwise linearly extrapolate from how
// long the current stage has taken versus how far into it the job is.
func (r *record) estimateRemainingSeconds(stageProgress float64) *float64 {
	if r.stage == StageComplete {
		zero := 0.0
		return &zero
	}

	if r.stageETASeconds != nil {
		eta := *r.stageETASeconds
		if eta < 0 {
			eta = 0
		}
		return &eta
	}

	stageElapsed := time.Since(r.stageStarted).Seconds()

	if stageProgress < minStageProgressForEstimate {
		baseline := initialEstimateSeconds
		if alt := maxFloat(stageElapsed, 1) * 6; alt > baseline {
			baseline = alt
		}
		return &baseline
	}

	divisor := stageProgress
	if divisor < minStageProgressForEstimate {
		divisor = minStageProgressForEstimate
	}
	totalEstimated := stageElapsed / divisor
	remaining := totalEstimated - stageElapsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
