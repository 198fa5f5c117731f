package util

import (
	"errors"
	"fmt"
)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// Stage identifies the pipeline stage where an error occurred, so the
// presentation layer can show a specific message per failure.
type Stage string

const (
	StageCapture Stage = "capture"
	StageEncode  Stage = "encode"
	StageUpload  Stage = "upload"
	StageParse   Stage = "parse"
	StagePersist Stage = "persist"
)

// StageError attaches the failing stage to an error.
type StageError struct {
	Stage Stage
	Err   error
}

// NewStageError wraps err with its failing stage. Returns nil for a nil err.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err's chain, or "" if none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
