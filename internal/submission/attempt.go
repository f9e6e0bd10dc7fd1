// Package submission holds the request-scoped unit of work that flows through
// the pipeline stages, and the Handler contract those stages implement.
package submission

import (
	"context"
	"time"

	"github.com/ethereum/esp-website-sub001/internal/ingest"
)

// Attempt is one submission from one request. It is owned by the request
// that created it and discarded when the pipeline returns.
type Attempt struct {
	ID             string
	RoundID        string
	Values         map[string]any
	Attachment     *ingest.Attachment
	Token          string
	RemoteIP       string
	IdempotencyKey string
	ReceivedAt     time.Time

	// Set by the orchestrator for logging and the ledger.
	RecordID   string
	DocumentID string
	LinkID     string
}

// Handler is one pipeline stage. A nil error means the submission was
// accepted end to end.
type Handler interface {
	Handle(ctx context.Context, a *Attempt) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, a *Attempt) error

func (f HandlerFunc) Handle(ctx context.Context, a *Attempt) error {
	return f(ctx, a)
}
