package resurface

import (
	"maps"
	"sync"
	"time"
)

// Job names a periodic resurfacing job.
type Job string

const (
	JobDeferredActivation   Job = "deferred_activation"
	JobDelegatedFollowUp    Job = "delegated_follow_up"
	JobSomedayReview        Job = "someday_review"
	JobPostponementAnalysis Job = "postponement_analysis"
)

// Jobs lists every job in the order they are registered.
var Jobs = []Job{JobDeferredActivation, JobDelegatedFollowUp, JobSomedayReview, JobPostponementAnalysis}

// JobStatus is the outcome of the most recent run of a job.
type JobStatus struct {
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

// RunState is the scheduler's own bookkeeping. It is owned by one
// Scheduler and shared only through its methods.
type RunState struct {
	mu   sync.Mutex
	jobs map[Job]JobStatus
}

func newRunState() *RunState {
	return &RunState{jobs: make(map[Job]JobStatus)}
}

func (s *RunState) record(job Job, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.jobs[job]
	st.LastRun = at
	st.Runs++
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
		st.Failures++
	}
	s.jobs[job] = st
}

// Snapshot returns a copy of the per-job status.
func (s *RunState) Snapshot() map[Job]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.jobs)
}
