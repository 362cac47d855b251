package domain

// CallEnvelope is the request body the remote adapter sends over a Conn.
type CallEnvelope struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context"`
}

// CallResult is the structured response body a backend returns. Status
// follows HTTP conventions: 2xx success, 4xx deterministic rejection,
// 5xx transient server fault.
type CallResult struct {
	Status  int            `json:"status"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ServerFault reports whether the result carries a retryable 5xx status.
func (r CallResult) ServerFault() bool {
	return ClassifyStatus(r.Status) == FailureRetryable
}

// TruncateBody bounds an error body for inclusion in error messages.
func TruncateBody(body string, limit int) string {
	if limit <= 0 || len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}
