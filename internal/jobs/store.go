// Package jobs records merge-and-process runs: Firestore for the cloud
// function, SQLite for local CLI history.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"github.com/Lllllllleong/scanmerge/internal/models"
)

var ErrNotFound = errors.New("job not found")

// Store persists job records.
type Store interface {
	// FindByHash returns the most recent job created for manifestHash that
	// did not fail, or ErrNotFound.
	FindByHash(ctx context.Context, manifestHash string) (*models.Job, error)
	// Create stores job and returns its id.
	Create(ctx context.Context, job *models.Job) (string, error)
	Update(ctx context.Context, id string, u models.JobUpdate) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// Recent lists up to limit jobs, newest first.
	Recent(ctx context.Context, limit int) ([]*models.Job, error)
	Close() error
}

// Hash returns the hex SHA-256 of r.
func Hash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
