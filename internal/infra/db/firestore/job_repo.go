package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

// jobDoc mirrors the fields the claim query filters on; the job itself is
// stored as JSON so it round-trips exactly like the other stores.
type jobDoc struct {
	OrgID     string     `firestore:"org_id"`
	Status    string     `firestore:"status"`
	QueuedAt  *time.Time `firestore:"queued_at"`
	UpdatedAt time.Time  `firestore:"updated_at"`
	Payload   string     `firestore:"payload"`
}

// JobRepo stores jobs in one collection. The claim query needs a composite
// index on (status, queued_at).
type JobRepo struct {
	client *firestore.Client
	col    string
	now    func() time.Time
}

// NewClient creates a Firestore client for projectID. FIRESTORE_EMULATOR_HOST
// is honored by the SDK.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

func NewJobRepo(client *firestore.Client, collection string) *JobRepo {
	if collection == "" {
		collection = "generation_jobs"
	}
	return &JobRepo{client: client, col: collection, now: time.Now}
}

func (r *JobRepo) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.col).Doc(id)
}

func toDoc(j *model.Job) (*jobDoc, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return &jobDoc{
		OrgID:     j.OrgID,
		Status:    string(j.Status),
		QueuedAt:  j.QueuedAt,
		UpdatedAt: j.UpdatedAt,
		Payload:   string(b),
	}, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*model.Job, error) {
	var d jobDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	var j model.Job
	if err := json.Unmarshal([]byte(d.Payload), &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

func mapErr(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return domain.ErrNotFound
	case codes.AlreadyExists:
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	d, err := toDoc(job)
	if err != nil {
		return err
	}
	_, err = r.doc(job.ID).Create(ctx, d)
	return mapErr(err)
}

func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	snap, err := r.doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return fromSnapshot(snap)
}

// Update runs fn inside a Firestore transaction. The SDK retries fn on
// contention, so fn must be safe to call more than once.
func (r *JobRepo) Update(ctx context.Context, id string, fn repository.JobMutation) (*model.Job, error) {
	var out *model.Job
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return mapErr(err)
		}
		j, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}
		d, err := toDoc(j)
		if err != nil {
			return err
		}
		out = j
		return tx.Set(ref, d)
	})
	if err != nil {
		return nil, txErr(err)
	}
	return out, nil
}

func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	var out *model.Job
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		q := r.client.Collection(r.col).
			Where("status", "==", string(model.JobStatusQueued)).
			OrderBy("queued_at", firestore.Asc).
			Limit(1)
		it := tx.Documents(q)
		defer it.Stop()
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		j, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		if err := j.TransitionTo(model.JobStatusProcessing, r.now()); err != nil {
			return err
		}
		d, err := toDoc(j)
		if err != nil {
			return err
		}
		out = j
		return tx.Set(snap.Ref, d)
	})
	if err != nil {
		return nil, txErr(err)
	}
	return out, nil
}

// txErr passes errors raised by the mutation through untouched and maps
// RPC failures to domain errors.
func txErr(err error) error {
	if status.Code(err) == codes.Unknown {
		return err
	}
	return mapErr(err)
}
