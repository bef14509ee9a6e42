package models

import "github.com/google/uuid"

// DispatchRequest is the payload for a dispatch invocation. TriggerType is
// the only required field; contact identity and metadata are passed through
// to the action handlers.
type DispatchRequest struct {
	TriggerType  string                 `json:"trigger_type" binding:"required,min=1,max=100"`
	ContactID    string                 `json:"contact_id,omitempty"`
	ContactEmail string                 `json:"contact_email,omitempty"`
	ContactName  string                 `json:"contact_name,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// DispatchResult describes one workflow execution started by a dispatch.
type DispatchResult struct {
	WorkflowID  uuid.UUID `json:"workflow_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Status      string    `json:"status"`
}

// DispatchResponse is the aggregate outcome of a dispatch invocation.
type DispatchResponse struct {
	Executions int              `json:"executions"`
	Results    []DispatchResult `json:"results"`
}

// QueueEntryResult describes the outcome of one queue entry attempt.
type QueueEntryResult struct {
	QueueEntryID uuid.UUID `json:"queue_entry_id"`
	Recipient    string    `json:"recipient"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// QueueProcessResponse is the aggregate outcome of one queue-processing run.
type QueueProcessResponse struct {
	Processed int                `json:"processed"`
	Sent      int                `json:"sent"`
	Failed    int                `json:"failed"`
	Results   []QueueEntryResult `json:"results"`
}

// PreviewRequest is the payload for a template preview render.
type PreviewRequest struct {
	Subject    string            `json:"subject"`
	Body       string            `json:"body" binding:"required"`
	Variables  map[string]string `json:"variables,omitempty"`
	EscapeHTML bool              `json:"escape_html,omitempty"`
}

// PreviewResponse carries the rendered preview.
type PreviewResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
