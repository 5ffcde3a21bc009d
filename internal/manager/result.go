package manager

import (
	"fmt"
	"strings"
)

// maxRecordedDetails bounds the per-record error and skip details kept by a StageResult.
const maxRecordedDetails = 100

// StageResult tracks the outcome of a best-effort batch over provider records.
type StageResult struct {
	Stage          string
	TotalProcessed int
	Succeeded      int
	Failed         int
	Skipped        int
	Created        int
	Errors         []RecordError
	SkippedReasons []SkipReason

	// ProviderErr is set when the upstream call failed and the batch was empty.
	ProviderErr error
}

// RecordError represents a specific error while processing one record
type RecordError struct {
	Entity string
	Reason string
	Error  error
}

// SkipReason represents why a record was skipped
type SkipReason struct {
	Entity string
	Reason string
}

// NewStageResult creates an empty result for the named stage
func NewStageResult(stage string) *StageResult {
	return &StageResult{Stage: stage}
}

// AddSuccess increments the success counter
func (r *StageResult) AddSuccess() {
	r.TotalProcessed++
	r.Succeeded++
}

// AddCreated records a successful record that created a new asset
func (r *StageResult) AddCreated() {
	r.AddSuccess()
	r.Created++
}

// AddFailure increments the failure counter and records the error
func (r *StageResult) AddFailure(entity, reason string, err error) {
	r.TotalProcessed++
	r.Failed++
	if len(r.Errors) < maxRecordedDetails {
		r.Errors = append(r.Errors, RecordError{Entity: entity, Reason: reason, Error: err})
	}
}

// AddSkipped increments the skipped counter and records the reason
func (r *StageResult) AddSkipped(entity, reason string) {
	r.TotalProcessed++
	r.Skipped++
	if len(r.SkippedReasons) < maxRecordedDetails {
		r.SkippedReasons = append(r.SkippedReasons, SkipReason{Entity: entity, Reason: reason})
	}
}

// Merge folds another result into r.
func (r *StageResult) Merge(other *StageResult) {
	if other == nil {
		return
	}
	r.TotalProcessed += other.TotalProcessed
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Created += other.Created
	for _, e := range other.Errors {
		if len(r.Errors) >= maxRecordedDetails {
			break
		}
		r.Errors = append(r.Errors, e)
	}
	for _, s := range other.SkippedReasons {
		if len(r.SkippedReasons) >= maxRecordedDetails {
			break
		}
		r.SkippedReasons = append(r.SkippedReasons, s)
	}
	if r.ProviderErr == nil {
		r.ProviderErr = other.ProviderErr
	}
}

// Summary returns a human-readable summary of the stage results
func (r *StageResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: processed=%d succeeded=%d created=%d failed=%d skipped=%d",
		r.Stage, r.TotalProcessed, r.Succeeded, r.Created, r.Failed, r.Skipped)
	if r.ProviderErr != nil {
		fmt.Fprintf(&b, " provider_error=%q", r.ProviderErr.Error())
	}
	return b.String()
}
