package ledger

import "time"

// Event types published while a pass runs
const (
	EventStatementGenerated = "statement_generated"
	EventStatementExecuted  = "statement_executed"
	EventStatementRejected  = "statement_rejected"
	EventDocumentProcessed  = "document_processed"
	EventPassCompleted      = "pass_completed"
)

// Event is a ledger change pushed to live listeners
type Event struct {
	Type         string    `json:"type"`
	RunID        string    `json:"runId,omitempty"`
	DocumentID   string    `json:"documentId,omitempty"`
	StatementID  uint      `json:"statementId,omitempty"`
	Status       string    `json:"status,omitempty"`
	Result       string    `json:"result,omitempty"`
	RowsAffected int64     `json:"rowsAffected,omitempty"`
	Count        int       `json:"count,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier receives ledger events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
