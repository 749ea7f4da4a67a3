package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/scanmerge/internal/models"
)

// FirestoreStore keeps one document per job in a collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) FindByHash(ctx context.Context, manifestHash string) (*models.Job, error) {
	iter := s.client.Collection(s.collection).
		Where("manifestHash", "==", manifestHash).
		Where("status", "in", []string{models.StatusProcessing, models.StatusSucceeded, models.StatusSucceededWithWarnings}).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Create(ctx context.Context, job *models.Job) (string, error) {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	docRef, _, err := s.client.Collection(s.collection).Add(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to create job document: %w", err)
	}
	job.ID = docRef.ID
	return docRef.ID, nil
}

func (s *FirestoreStore) Update(ctx context.Context, id string, u models.JobUpdate) error {
	updates := []firestore.Update{{Path: "updatedAt", Value: time.Now().UTC()}}
	if u.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: u.Status})
	}
	if u.ErrorKind != "" {
		updates = append(updates, firestore.Update{Path: "errorKind", Value: u.ErrorKind})
	}
	if u.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: u.ErrorDetails})
	}
	if u.PageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: u.PageCount})
	}
	if u.Output != "" {
		updates = append(updates, firestore.Update{Path: "output", Value: u.Output})
	}
	if len(u.Warnings) > 0 {
		updates = append(updates, firestore.Update{Path: "warnings", Value: u.Warnings})
	}
	if u.WorkflowExecutionID != "" {
		updates = append(updates, firestore.Update{Path: "workflowExecutionId", Value: u.WorkflowExecutionID})
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.Job, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Recent(ctx context.Context, limit int) ([]*models.Job, error) {
	snaps, err := s.client.Collection(s.collection).OrderBy("createdAt", firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*models.Job, 0, len(snaps))
	for _, snap := range snaps {
		job, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *FirestoreStore) Close() error { return nil }

func decode(snap *firestore.DocumentSnapshot) (*models.Job, error) {
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
	}
	job.ID = snap.Ref.ID
	return &job, nil
}
