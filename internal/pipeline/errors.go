package pipeline

import (
	"errors"
	"fmt"

	"github.com/jonathan/content-factory/internal/llm"
)

// ConfigurationError indicates a pipeline misconfiguration (a missing role
// mapping or a mapping to an unknown agent). Fatal for the run, never
// retried.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// InterruptionMessage is recorded on runs found mid-execution after an
// unclean shutdown.
const InterruptionMessage = "Run interrupted by server restart"

// errorKind classifies an error for run logs: configuration, upstream, or
// internal.
func errorKind(err error) string {
	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return "configuration"
	}
	var upstreamErr *llm.UpstreamError
	if errors.As(err, &upstreamErr) {
		return "upstream"
	}
	return "internal"
}

// errorMessage extracts the message recorded on run state. Upstream errors
// keep their backend status visible.
func errorMessage(err error) string {
	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return configErr.Message
	}
	var upstreamErr *llm.UpstreamError
	if errors.As(err, &upstreamErr) {
		return fmt.Sprintf("%s (status %d)", upstreamErr.Message, upstreamErr.Status)
	}
	return err.Error()
}
