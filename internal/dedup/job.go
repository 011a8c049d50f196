package dedup

import "time"

// State is the lifecycle position of a conversion job.
type State int

const (
	Pending State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// job is mutated only under Cache.mu; value and err are written once before
// done is closed and are read-only afterwards.
type job[V any] struct {
	fingerprint string
	state       State
	value       V
	err         error
	done        chan struct{}
	waiters     int
	createdAt   time.Time
	startedAt   time.Time
	finishedAt  time.Time
}

// JobSnapshot is a point-in-time copy of a job's bookkeeping.
type JobSnapshot struct {
	Fingerprint string    `json:"fingerprint"`
	State       State     `json:"state"`
	Waiters     int       `json:"waiters"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

func (j *job[V]) snapshot() JobSnapshot {
	s := JobSnapshot{
		Fingerprint: j.fingerprint,
		State:       j.state,
		Waiters:     j.waiters,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}
