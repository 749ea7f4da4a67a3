package models

import "github.com/Lllllllleong/scanmerge/internal/errs"

// These structs define the JSON documents exchanged with the merge function:
// the manifest a client uploads to start a job and the report written next to
// the output.

// InputRef is one source document of a manifest.
type InputRef struct {
	URI     string `json:"uri"`
	Reverse bool   `json:"reverse,omitempty"`
}

// MergeRequest is a job manifest. Options uses the profile key names
// (snake_case) and is layered over Profile when one is given.
type MergeRequest struct {
	Inputs  []InputRef     `json:"inputs"`
	Mode    string         `json:"mode,omitempty"`
	Profile string         `json:"profile,omitempty"`
	Options map[string]any `json:"options,omitempty"`
	// Output is the object name of the merged document in the output bucket.
	Output string `json:"output"`
}

// MergeReport is written beside the output once a job has finished.
type MergeReport struct {
	JobID    string         `json:"jobId"`
	Status   string         `json:"status"`
	Output   string         `json:"output,omitempty"`
	Pages    int            `json:"pages,omitempty"`
	Stages   []string       `json:"stages,omitempty"`
	Warnings []errs.Warning `json:"warnings,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// WorkflowArgument is passed to the downstream workflow execution.
type WorkflowArgument struct {
	JobID     string `json:"jobId"`
	OutputURI string `json:"outputUri"`
	PageCount int    `json:"pageCount"`
}
