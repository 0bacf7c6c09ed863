package apiv1

import (
	"time"

	"longform-pipeline/internal/domain/model"
)

// GenerationRequest is the POST /v1/generations body.
type GenerationRequest struct {
	Mode            string             `json:"mode,omitempty"`
	Topic           string             `json:"topic"`
	Keywords        []string           `json:"keywords,omitempty"`
	Length          int                `json:"length,omitempty"`
	Tone            string             `json:"tone,omitempty"`
	Language        string             `json:"language,omitempty"`
	Plan            string             `json:"plan,omitempty"`
	Features        model.FeatureFlags `json:"features"`
	EvidenceIDs     []string           `json:"evidenceIds,omitempty"`
	ShareEvidence   bool               `json:"shareEvidence,omitempty"`
	RequestID       string             `json:"requestId,omitempty"`
	DeadlineSeconds int                `json:"deadlineSeconds,omitempty"`
}

func (g GenerationRequest) toModel(orgID string) model.GenerationRequest {
	return model.GenerationRequest{
		RequestID:     g.RequestID,
		OrgID:         orgID,
		Topic:         g.Topic,
		Keywords:      g.Keywords,
		TargetLength:  g.Length,
		Tone:          g.Tone,
		Language:      g.Language,
		Plan:          model.PlanTier(g.Plan),
		Features:      g.Features,
		EvidenceIDs:   g.EvidenceIDs,
		ShareEvidence: g.ShareEvidence,
		Deadline:      time.Duration(g.DeadlineSeconds) * time.Second,
	}
}

// Accepted is returned for async submissions.
type Accepted struct {
	JobID                   string     `json:"jobId"`
	Status                  string     `json:"status"`
	EstimatedCompletionTime *time.Time `json:"estimatedCompletionTime,omitempty"`
}

type Job struct {
	JobID              string                  `json:"jobId"`
	Status             string                  `json:"status"`
	ProgressPercentage int                     `json:"progressPercentage"`
	CurrentStage       string                  `json:"currentStage,omitempty"`
	CancelRequested    bool                    `json:"cancelRequested,omitempty"`
	SubmittedAt        time.Time               `json:"submittedAt"`
	QueuedAt           *time.Time              `json:"queuedAt,omitempty"`
	StartedAt          *time.Time              `json:"startedAt,omitempty"`
	CompletedAt        *time.Time              `json:"completedAt,omitempty"`
	Result             *model.GenerationResult `json:"result,omitempty"`
	ErrorMessage       string                  `json:"errorMessage,omitempty"`
	ErrorClass         string                  `json:"errorClass,omitempty"`
	History            []model.StatusChange    `json:"history,omitempty"`
}

func toJob(j *model.Job) Job {
	v := Job{
		JobID:              j.ID,
		Status:             string(j.Status),
		ProgressPercentage: j.Progress,
		CurrentStage:       j.CurrentStage,
		CancelRequested:    j.CancelRequested,
		SubmittedAt:        j.SubmittedAt,
		QueuedAt:           j.QueuedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		Result:             j.Result,
		History:            j.History,
	}
	if j.Failure != nil {
		v.ErrorMessage = j.Failure.Message
		v.ErrorClass = string(j.Failure.Class)
	}
	return v
}
