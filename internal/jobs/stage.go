package jobs

// Stage is one step of a job's pipeline.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageFetching    Stage = "fetching"
	StageTranscoding Stage = "transcoding"
	StageFinalizing  Stage = "finalizing"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// Plan is the ordered list of non-terminal stages a job will walk before
// reaching complete or failed. A multipart upload whose bytes are already
// staged skips fetching; every other ingest walks all three.
type Plan []Stage

var (
	// PlanFetchTranscodeFinalize is used by remote, torrent and extractor
	// ingests, which all need a fetch stage before transcoding.
	PlanFetchTranscodeFinalize = Plan{StageFetching, StageTranscoding, StageFinalizing}

	// PlanTranscodeFinalize is used by multipart uploads, whose bytes are
	// already on disk by the time the job is created.
	PlanTranscodeFinalize = Plan{StageTranscoding, StageFinalizing}
)

// indexOf returns the position of stage within the plan, or -1.
func (p Plan) indexOf(stage Stage) int {
	for i, s := range p {
		if s == stage {
			return i
		}
	}
	return -1
}

// isTerminal reports whether stage ends the job's lifecycle.
func isTerminal(stage Stage) bool {
	return stage == StageComplete || stage == StageFailed
}

// validTransitions mirrors the forward-only state machine from the job
// registry's contract: every non-terminal stage may also move to failed.
var validTransitions = map[Stage][]Stage{
	StageQueued:      {StageFetching, StageTranscoding, StageFailed},
	StageFetching:    {StageTranscoding, StageFailed},
	StageTranscoding: {StageFinalizing, StageFailed},
	StageFinalizing:  {StageComplete, StageFailed},
}

func isValidTransition(from, to Stage) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
