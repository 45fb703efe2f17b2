package monitor

import (
	"time"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/policy"
)

// Decision is the outcome of evaluating one job on one tick.
type Decision int

const (
	// DecisionNone leaves the job active.
	DecisionNone Decision = iota
	// DecisionComplete finalizes the job with every subtask succeeded.
	DecisionComplete
	// DecisionPartial finalizes a timed-out job that cleared the partial
	// completion threshold.
	DecisionPartial
	// DecisionTimeout finalizes a timed-out job below the threshold.
	// No downstream message is sent.
	DecisionTimeout
)

func (d Decision) String() string {
	switch d {
	case DecisionComplete:
		return "complete"
	case DecisionPartial:
		return "partial"
	case DecisionTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Decide evaluates one job against the effective configuration. It is a
// pure function of (now, job, cfg) so completion, timeout, and threshold
// rules are testable without real time delays.
//
// Order matters: a fully completed job finalizes as complete even when it
// has also aged past the timeout.
func Decide(now time.Time, job *core.Job, cfg policy.Config) Decision {
	if job.Status.Terminal() {
		return DecisionNone
	}

	total := len(job.SubtaskIDs)
	done := job.DoneCount()

	if total > 0 && done == total {
		return DecisionComplete
	}

	if now.Sub(job.CreatedAt) <= cfg.JobTimeout {
		return DecisionNone
	}

	if cfg.EnablePartialCompletion && done > 0 && job.CompletionRatio() >= cfg.PartialThreshold {
		return DecisionPartial
	}
	return DecisionTimeout
}
