package elastic

import (
	"errors"
	"fmt"
)

var (
	// ErrAllNodesFailing is returned when no configured node could serve a
	// call.
	ErrAllNodesFailing = errors.New("all elasticsearch nodes failing")

	// ErrAuthentication is returned on 401 and 403 responses. It indicates
	// misconfiguration and is never retried on another node.
	ErrAuthentication = errors.New("elasticsearch authentication failed")

	// ErrPipelineNotFound is matched by PipelineNotFoundError.
	ErrPipelineNotFound = errors.New("ingest pipeline not found")
)

// PipelineNotFoundError names the missing ingest pipeline.
type PipelineNotFoundError struct {
	Name string
}

func (e *PipelineNotFoundError) Error() string {
	return fmt.Sprintf("ingest pipeline %q does not exist", e.Name)
}

// Is lets errors.Is match ErrPipelineNotFound.
func (e *PipelineNotFoundError) Is(target error) bool { return target == ErrPipelineNotFound }

// ResponseError is an unexpected status returned by a node.
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch returned status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch returned status %d: %s: %s", e.Status, e.Type, e.Reason)
}
