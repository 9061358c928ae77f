// Package jobs implements the process-wide job registry: a concurrent map
// from job id to job state, its forward-only stage machine, and the
// progress/ETA derivation original_source's jobs.rs used.
//
// This generalizes the single-record manager pattern in
// korvin3-media-transcriber's internal/jobs/manager.go from "one job at a
// time" to "one independently-locked record per job id".
package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"videoserver/internal/apperr"
)

// Registry is the sole shared mutable surface drivers, the planner, the
// supervisor and HTTP handlers talk to. It never hands out a *record;
// callers only ever see immutable Snapshots.
type Registry struct {
	log *logrus.Logger

	mu      sync.RWMutex
	records map[uuid.UUID]*record
	cancels map[uuid.UUID]context.CancelFunc
}

// New creates an empty registry.
func New(log *logrus.Logger) *Registry {
	return &Registry{
		log:     log,
		records: make(map[uuid.UUID]*record),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Create inserts a fresh job in StageQueued for the given plan and returns
// a context that is cancelled if Cancel is later called for this id.
func (reg *Registry) Create(parent context.Context, plan Plan) (uuid.UUID, context.Context) {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)

	reg.mu.Lock()
	reg.records[id] = newRecord(id, plan)
	reg.cancels[id] = cancel
	reg.mu.Unlock()

	return id, ctx
}

// Transition enforces the forward-only stage machine. Illegal transitions
// are rejected rather than silently coerced.
func (reg *Registry) Transition(id uuid.UUID, next Stage) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if isTerminal(rec.stage) {
		return apperr.New(apperr.KindBadRequest, "job is already terminal")
	}
	if !isValidTransition(rec.stage, next) {
		return apperr.New(apperr.KindBadRequest, "illegal stage transition "+string(rec.stage)+"->"+string(next))
	}
	rec.setStage(next)
	reg.log.WithFields(logrus.Fields{"job": id, "stage": next}).Debug("job transitioned")
	return nil
}

// UpdateStageProgress applies a monotonic fractional update to the job's
// current stage.
func (reg *Registry) UpdateStageProgress(id uuid.UUID, fraction float64) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if isTerminal(rec.stage) {
		return nil
	}
	rec.setStageProgress(fraction)
	return nil
}

// UpdateStageETA records a supervisor-reported ETA for the current stage,
// overriding the registry's own linear extrapolation until the next stage
// transition clears it.
func (reg *Registry) UpdateStageETA(id uuid.UUID, seconds *float64) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.setStageETA(seconds)
	return nil
}

// Fail terminates the job with a structured error.
func (reg *Registry) Fail(id uuid.UUID, kind apperr.Kind, message string) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if isTerminal(rec.stage) {
		return nil
	}
	rec.fail(ErrorDetail{Kind: string(kind), Message: message})
	reg.log.WithFields(logrus.Fields{"job": id, "kind": kind}).Error(message)
	return nil
}

// Complete marks the job done. Callers must have already made the
// mezzanine's publication rename visible before calling this.
func (reg *Registry) Complete(id uuid.UUID) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if isTerminal(rec.stage) {
		return nil
	}
	rec.complete()
	return nil
}

// Cancel requests cooperative cancellation of the job's context. It is a
// no-op once the job is terminal.
func (reg *Registry) Cancel(id uuid.UUID) error {
	reg.mu.RLock()
	rec, ok := reg.records[id]
	cancel, hasCancel := reg.cancels[id]
	reg.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job")
	}

	rec.mu.Lock()
	terminal := isTerminal(rec.stage)
	rec.mu.Unlock()
	if terminal {
		return nil
	}
	if hasCancel {
		cancel()
	}
	return reg.Fail(id, apperr.KindCancelled, "cancelled by caller")
}

// Get returns an immutable snapshot of the job, or false if unknown.
func (reg *Registry) Get(id uuid.UUID) (Snapshot, bool) {
	rec, ok := reg.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), true
}

// List returns a snapshot of every job currently tracked. Used by the
// storage janitor to find terminal candidates.
func (reg *Registry) List() []Snapshot {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Snapshot, 0, len(reg.records))
	for _, rec := range reg.records {
		rec.mu.Lock()
		out = append(out, rec.snapshot())
		rec.mu.Unlock()
	}
	return out
}

// Forget permanently removes a terminal job's record. Used once the
// janitor has pruned its rendition cache and the operator wants the id
// reclaimed; multipart/remote ingests never call this themselves.
func (reg *Registry) Forget(id uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.records, id)
	delete(reg.cancels, id)
}

func (reg *Registry) lookup(id uuid.UUID) (*record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.records[id]
	return rec, ok
}
