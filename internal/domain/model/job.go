package model

import (
	"time"

	"longform-pipeline/internal/domain"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// rank orders statuses; terminal states share the highest rank.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 3
	}
	return -1
}

func (s JobStatus) Valid() bool { return s.rank() >= 0 }

func (s JobStatus) IsTerminal() bool { return s.rank() == 3 }

// Started reports whether a worker has picked the job up.
func (s JobStatus) Started() bool { return s.rank() >= 2 }

// CanTransition allows only forward moves. A status may be re-entered for
// in-place updates (progress), except terminal ones. Cancellation is allowed
// from any non-terminal status; completed and failed require processing.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	switch to {
	case JobStatusCompleted, JobStatusFailed:
		return from == JobStatusProcessing
	case JobStatusCancelled:
		return true
	}
	return to.rank() >= from.rank()
}

// StatusChange is one entry of the job audit trail.
type StatusChange struct {
	Status JobStatus `json:"status"`
	At     time.Time `json:"at"`
}

// JobFailure is the persisted form of a domain.JobError.
type JobFailure struct {
	Class   domain.ErrorClass `json:"class"`
	Kind    string            `json:"kind,omitempty"`
	Stage   string            `json:"stage,omitempty"`
	Message string            `json:"message"`
}

// Job is the unit of asynchronous work. After submission only the worker
// running it writes to it, and never after a terminal status.
type Job struct {
	ID              string            `json:"id"`
	OrgID           string            `json:"orgId"`
	Mode            Mode              `json:"mode"`
	Status          JobStatus         `json:"status"`
	Request         GenerationRequest `json:"request"`
	Progress        int               `json:"progress"`
	CurrentStage    string            `json:"currentStage,omitempty"`
	CancelRequested bool              `json:"cancelRequested,omitempty"`
	Result          *GenerationResult `json:"result,omitempty"`
	Failure         *JobFailure       `json:"failure,omitempty"`
	History         []StatusChange    `json:"history"`
	// Revision is bumped inside every committed Update made through a snapshot
	// cache, which uses it to order its writes.
	Revision        int64             `json:"revision,omitempty"`

	SubmittedAt         time.Time  `json:"submittedAt"`
	QueuedAt            *time.Time `json:"queuedAt,omitempty"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func NewJob(id string, req GenerationRequest, mode Mode, now time.Time) *Job {
	return &Job{
		ID:          id,
		OrgID:       req.OrgID,
		Mode:        mode,
		Status:      JobStatusPending,
		Request:     req,
		History:     []StatusChange{{Status: JobStatusPending, At: now}},
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// Version orders snapshots of one job: status rank first, then revision.
// It never decreases across committed updates.
func (j *Job) Version() int64 {
	return int64(j.Status.rank())<<40 | j.Revision
}

// TransitionTo moves the job forward and stamps the matching timestamp.
func (j *Job) TransitionTo(to JobStatus, now time.Time) error {
	if j.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	if !CanTransition(j.Status, to) {
		return domain.ErrIllegalState
	}
	if to != j.Status {
		j.History = append(j.History, StatusChange{Status: to, At: now})
	}
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case JobStatusQueued:
		if j.QueuedAt == nil {
			j.QueuedAt = &now
		}
	case JobStatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		j.CompletedAt = &now
		j.CurrentStage = ""
	}
	return nil
}

// Complete attaches the result; a result exists iff the job completed.
func (j *Job) Complete(res *GenerationResult, now time.Time) error {
	if err := j.TransitionTo(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Result = res
	j.Failure = nil
	j.Progress = 100
	return nil
}

// Fail records the failure; failure detail exists iff the job failed.
func (j *Job) Fail(f JobFailure, now time.Time) error {
	if err := j.TransitionTo(JobStatusFailed, now); err != nil {
		return err
	}
	j.Failure = &f
	j.Result = nil
	return nil
}

func (j *Job) Cancel(now time.Time) error {
	if err := j.TransitionTo(JobStatusCancelled, now); err != nil {
		return err
	}
	j.CancelRequested = true
	j.Result = nil
	return nil
}

// Clone returns a deep enough copy for handing snapshots to readers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.History = append([]StatusChange(nil), j.History...)
	if j.Failure != nil {
		f := *j.Failure
		cp.Failure = &f
	}
	if j.Result != nil {
		r := *j.Result
		r.Stages = append([]StageResult(nil), j.Result.Stages...)
		r.Citations = append([]Citation(nil), j.Result.Citations...)
		r.Warnings = append([]Warning(nil), j.Result.Warnings...)
		r.Skipped = append([]StageName(nil), j.Result.Skipped...)
		cp.Result = &r
	}
	return &cp
}
