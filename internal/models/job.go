package models

import (
	"time"

	"github.com/Lllllllleong/scanmerge/internal/errs"
)

// Job statuses, in the order a job moves through them.
const (
	StatusProcessing            = "PROCESSING"
	StatusSucceeded             = "SUCCEEDED"
	StatusSucceededWithWarnings = "SUCCEEDED_WITH_WARNINGS"
	StatusFailed                = "FAILED"
)

// Job is the record of one merge-and-process run. Cloud runs keep it in
// Firestore, CLI runs in the local history database.
type Job struct {
	ID                  string         `firestore:"-" json:"id"`
	ManifestHash        string         `firestore:"manifestHash,omitempty" json:"manifestHash,omitempty"`
	Source              string         `firestore:"source,omitempty" json:"source,omitempty"`
	Mode                string         `firestore:"mode,omitempty" json:"mode,omitempty"`
	InputCount          int            `firestore:"inputCount,omitempty" json:"inputCount,omitempty"`
	Status              string         `firestore:"status,omitempty" json:"status"`
	ErrorKind           string         `firestore:"errorKind,omitempty" json:"errorKind,omitempty"`
	ErrorDetails        string         `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	PageCount           int            `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	Output              string         `firestore:"output,omitempty" json:"output,omitempty"`
	Warnings            []errs.Warning `firestore:"warnings,omitempty" json:"warnings,omitempty"`
	WorkflowExecutionID string         `firestore:"workflowExecutionId,omitempty" json:"workflowExecutionId,omitempty"`
	CreatedAt           time.Time      `firestore:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt           time.Time      `firestore:"updatedAt,omitempty" json:"updatedAt"`
}

// JobUpdate carries the fields a status change sets. Zero fields are left
// untouched.
type JobUpdate struct {
	Status              string
	ErrorKind           string
	ErrorDetails        string
	PageCount           int
	Output              string
	Warnings            []errs.Warning
	WorkflowExecutionID string
}
