package llm

import "fmt"

// UpstreamError indicates a failure reported by, or while talking to, the
// chat backend. Status carries the backend's HTTP status code, or a
// 502-equivalent for transport-level failures such as an empty body.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("chat backend error (status %d): %s", e.Status, e.Message)
}
