package domain

import "errors"

// Common domain errors
var (
	ErrCountryNotFound     = errors.New("country not found")
	ErrNoData              = errors.New("no data for country")
	ErrReplayMiss          = errors.New("no saved copy for url")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrUpstreamUnreachable = errors.New("feature service unreachable")
)

// PipelineError wraps errors with additional context about the country and
// layer being processed when the failure occurred.
type PipelineError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
