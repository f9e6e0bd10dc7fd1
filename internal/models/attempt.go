package models

type AttemptStatus string

const (
	AttemptComplete AttemptStatus = "complete"
	// AttemptAborted means nothing was created in the CRM.
	AttemptAborted AttemptStatus = "aborted"
	// AttemptPartial means the record exists but its attachment was not
	// uploaded or not linked.
	AttemptPartial AttemptStatus = "partial"
)

// Attempt is the ledger entry for one submission that reached the CRM
// orchestrator. Error holds internal detail for operators only.
type Attempt struct {
	ID             string        `json:"_id,omitempty"`
	AttemptID      string        `json:"attemptId"`
	RoundID        string        `json:"roundId"`
	Status         AttemptStatus `json:"status"`
	State          string        `json:"state"`
	FailedStep     string        `json:"failedStep,omitempty"`
	Error          string        `json:"error,omitempty"`
	RecordID       string        `json:"recordId,omitempty"`
	DocumentID     string        `json:"documentId,omitempty"`
	LinkID         string        `json:"linkId,omitempty"`
	Attachment     string        `json:"attachment,omitempty"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	ReceivedAt     string        `json:"receivedAt"`
	FinishedAt     string        `json:"finishedAt"`
	DurationMs     int64         `json:"durationMs"`
}
