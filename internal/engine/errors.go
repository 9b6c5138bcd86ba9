package engine

import "errors"

var (
	// ErrExtraction indicates the connector failed or timed out. The record
	// has been moved to error with the reason recorded in its history.
	ErrExtraction = errors.New("extraction failed")
	// ErrInvalidState indicates an approve or reject on a record that is not
	// pending review.
	ErrInvalidState = errors.New("invalid workflow state")
	// ErrStepFailed indicates a step handler faulted before producing a
	// checkpoint. The record is unchanged.
	ErrStepFailed = errors.New("step failed")
	// ErrEmptyDocument indicates a record with no content. The record has
	// been moved to error with the reason recorded in its history.
	ErrEmptyDocument = errors.New("document has no content")
	// ErrArchive indicates the finalized result could not be archived.
	ErrArchive = errors.New("archive failed")
)
