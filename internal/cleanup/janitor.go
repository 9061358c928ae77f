// Package cleanup implements Component I: a periodic, free-space-driven
// janitor that prunes cold rendition caches, grounded on
// original_source/src/cleanup.rs's ensure_capacity algorithm (terminal-only
// candidates, least-recently-updated-first, batch-bounded).
package cleanup

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"videoserver/internal/jobs"
	"videoserver/internal/storage"
)

// Config mirrors original_source's CleanupConfig defaults.
type Config struct {
	MinFreeBytes int64
	MinFreeRatio float64
	BatchSize    int
	Interval     time.Duration
}

// Janitor owns the periodic free-space check and bounded pruning pass.
type Janitor struct {
	cfg     Config
	layout  *storage.Layout
	reg     *jobs.Registry
	log     *logrus.Logger
	statfs  func(path string) (free, total uint64, err error)
}

// New builds a Janitor. statfs is overridable for tests; production
// callers should pass nil to use the real golang.org/x/sys/unix.Statfs
// syscall.
func New(cfg Config, layout *storage.Layout, reg *jobs.Registry, log *logrus.Logger, statfs func(string) (uint64, uint64, error)) *Janitor {
	if statfs == nil {
		statfs = realStatfs
	}
	return &Janitor{cfg: cfg, layout: layout, reg: reg, log: log, statfs: statfs}
}

func realStatfs(path string) (free, total uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	free = stat.Bavail * uint64(stat.Bsize)
	total = stat.Blocks * uint64(stat.Bsize)
	return free, total, nil
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Tick()
		}
	}
}

// Tick runs one pruning pass, logging (never failing) on error: background
// cleanup errors never fail a job.
func (j *Janitor) Tick() {
	free, total, err := j.statfs(j.layout.Root)
	if err != nil {
		j.log.WithError(err).Warn("janitor: could not stat storage root")
		return
	}

	if !j.needsCleanup(free, total) {
		return
	}

	candidates := j.terminalCandidatesOldestFirst()
	pruned := 0
	for _, id := range candidates {
		if pruned >= j.cfg.BatchSize {
			break
		}
		didPrune, err := j.layout.PruneRenditions(id)
		if err != nil {
			j.log.WithFields(logrus.Fields{"job": id}).WithError(err).Warn("janitor: prune failed, continuing")
			continue
		}
		if didPrune {
			pruned++
		}

		free, total, err = j.statfs(j.layout.Root)
		if err == nil && !j.needsCleanup(free, total) {
			break
		}
	}
}

func (j *Janitor) needsCleanup(free, total uint64) bool {
	if j.cfg.MinFreeBytes > 0 && int64(free) < j.cfg.MinFreeBytes {
		return true
	}
	if total > 0 && j.cfg.MinFreeRatio > 0 {
		ratio := float64(free) / float64(total)
		if ratio < j.cfg.MinFreeRatio {
			return true
		}
	}
	return false
}

// terminalCandidatesOldestFirst lists complete/failed jobs ordered by
// last_update ascending — the least-recent-access proxy original_source
// uses.
func (j *Janitor) terminalCandidatesOldestFirst() []uuid.UUID {
	all := j.reg.List()
	candidates := make([]jobs.Snapshot, 0, len(all))
	for _, snap := range all {
		if snap.Stage == jobs.StageComplete || snap.Stage == jobs.StageFailed {
			candidates = append(candidates, snap)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].LastUpdateUnixMs < candidates[k].LastUpdateUnixMs
	})

	ids := make([]uuid.UUID, len(candidates))
	for i, snap := range candidates {
		ids[i] = snap.ID
	}
	return ids
}
