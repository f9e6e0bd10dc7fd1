package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/crm"
	"github.com/ethereum/esp-website-sub001/internal/idempotency"
	"github.com/ethereum/esp-website-sub001/internal/metrics"
	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/repository"
	"github.com/ethereum/esp-website-sub001/internal/rounds"
	"github.com/ethereum/esp-website-sub001/internal/schema"
	"github.com/ethereum/esp-website-sub001/internal/submission"
)

// State is a step of the CRM orchestration.
type State int

const (
	Authenticating State = iota
	RecordCreating
	AttachmentUploading
	AttachmentLinking
	Complete
	Aborted
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "Authenticating"
	case RecordCreating:
		return "RecordCreating"
	case AttachmentUploading:
		return "AttachmentUploading"
	case AttachmentLinking:
		return "AttachmentLinking"
	case Complete:
		return "Complete"
	default:
		return "Aborted"
	}
}

// CRM is the subset of *crm.Client the orchestrator drives.
type CRM interface {
	Authenticate(ctx context.Context) (*crm.Session, error)
	CreateRecord(ctx context.Context, s *crm.Session, object, recordTypeID string, attrs crm.Attributes) (string, error)
	UploadDocument(ctx context.Context, s *crm.Session, filename string, content []byte) (string, error)
	LinkDocument(ctx context.Context, s *crm.Session, documentID, recordID string) (string, error)
}

// Readable is an attachment the orchestrator can load for upload.
type Readable interface {
	schema.FileRef
	ReadAll() ([]byte, error)
}

// StepError is a service fault. RecordID is set when the record was created
// before the failing step; that record is not rolled back.
type StepError struct {
	Step     State
	RecordID string
	Err      error
}

func (e *StepError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("service: %s failed after record %s was created: %v", e.Step, e.RecordID, e.Err)
	}
	return fmt.Sprintf("service: %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Timeouts bound each external call. Zero means no per-step deadline beyond
// the caller's context.
type Timeouts struct {
	Authenticate time.Duration
	CreateRecord time.Duration
	Upload       time.Duration
	Link         time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Authenticate: 10 * time.Second,
		CreateRecord: 15 * time.Second,
		Upload:       60 * time.Second,
		Link:         15 * time.Second,
	}
}

type OrchestratorConfig struct {
	CRM      CRM
	Ledger   repository.AttemptStore
	Idem     idempotency.Store
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Timeouts Timeouts
}

// Orchestrator runs Authenticating → RecordCreating → (AttachmentUploading →
// AttachmentLinking) → Complete. Steps run strictly in order, each external
// call is made at most once, and nothing is compensated on failure.
type Orchestrator struct {
	crm      CRM
	ledger   repository.AttemptStore
	idem     idempotency.Store
	metrics  *metrics.Metrics
	log      *zap.Logger
	timeouts Timeouts
	now      func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		crm:      cfg.CRM,
		ledger:   cfg.Ledger,
		idem:     cfg.Idem,
		metrics:  cfg.Metrics,
		log:      log,
		timeouts: cfg.Timeouts,
		now:      time.Now,
	}
}

// run is the mutable state of one orchestration.
type run struct {
	round   *rounds.Round
	attempt *submission.Attempt
	rec     schema.Record
	file    Readable
	idemKey string
	state   State
	log     *zap.Logger
}

// Submit persists a validated record, and its attachment if the round's file
// field holds one.
func (o *Orchestrator) Submit(ctx context.Context, round *rounds.Round, a *submission.Attempt, rec schema.Record) error {
	r := &run{
		round:   round,
		attempt: a,
		rec:     rec,
		state:   Authenticating,
		log:     o.log.With(zap.String("attempt", a.ID), zap.String("round", round.ID)),
	}
	if field := round.Schema.FileField(); field != "" {
		if f, ok := rec[field].(Readable); ok {
			r.file = f
		}
	}

	var prev *idempotency.Entry
	if a.IdempotencyKey != "" && o.idem != nil {
		key := round.ID + ":" + a.IdempotencyKey
		p, err := o.idem.Reserve(ctx, key, a.ID)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			return &StepError{Step: Authenticating, Err: err}
		case err != nil:
			r.log.Warn("idempotency store unavailable, continuing without it", zap.Error(err))
		default:
			r.idemKey = key
			prev = p
		}
	}
	if prev != nil {
		a.RecordID, a.DocumentID, a.LinkID = prev.RecordID, prev.DocumentID, prev.LinkID
		if a.LinkID != "" || (r.file == nil && a.RecordID != "") {
			r.state = Complete
			r.log.Info("resubmission already complete", zap.String("recordId", a.RecordID))
			return nil
		}
		r.log.Info("resuming from earlier attempt", zap.String("previousAttempt", prev.AttemptID),
			zap.String("recordId", prev.RecordID), zap.String("documentId", prev.DocumentID))
	}

	err := o.steps(ctx, r)
	if err != nil {
		r.state = Aborted
		if a.RecordID == "" && r.idemKey != "" {
			if rerr := o.idem.Release(context.WithoutCancel(ctx), r.idemKey); rerr != nil {
				r.log.Warn("release idempotency key", zap.Error(rerr))
			}
		}
	}
	o.record(ctx, r, err)
	return err
}

func (o *Orchestrator) steps(ctx context.Context, r *run) error {
	a := r.attempt

	r.state = Authenticating
	var sess *crm.Session
	if err := o.step(ctx, r, o.timeouts.Authenticate, func(ctx context.Context) (err error) {
		sess, err = o.crm.Authenticate(ctx)
		return err
	}); err != nil {
		return err
	}

	if a.RecordID == "" {
		r.state = RecordCreating
		attrs := r.round.Mapping.Attributes(r.rec)
		if err := o.step(ctx, r, o.timeouts.CreateRecord, func(ctx context.Context) (err error) {
			a.RecordID, err = o.crm.CreateRecord(ctx, sess, r.round.Mapping.Object, r.round.RecordTypeID, attrs)
			return err
		}); err != nil {
			return err
		}
		r.log.Info("crm record created", zap.String("recordId", a.RecordID))
		o.saveProgress(ctx, r)
	}

	if r.file == nil {
		r.state = Complete
		return nil
	}

	if a.DocumentID == "" {
		r.state = AttachmentUploading
		if err := o.step(ctx, r, o.timeouts.Upload, func(ctx context.Context) error {
			content, err := r.file.ReadAll()
			if err != nil {
				return fmt.Errorf("read attachment: %w", err)
			}
			a.DocumentID, err = o.crm.UploadDocument(ctx, sess, r.file.FileName(), content)
			return err
		}); err != nil {
			return err
		}
		o.saveProgress(ctx, r)
	}

	r.state = AttachmentLinking
	if err := o.step(ctx, r, o.timeouts.Link, func(ctx context.Context) (err error) {
		a.LinkID, err = o.crm.LinkDocument(ctx, sess, a.DocumentID, a.RecordID)
		return err
	}); err != nil {
		return err
	}
	o.saveProgress(ctx, r)

	r.state = Complete
	return nil
}

// step runs one external call under its own deadline.
func (o *Orchestrator) step(ctx context.Context, r *run, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := o.now()
	err := fn(ctx)
	if o.metrics != nil {
		o.metrics.RecordStep(r.state.String(), err == nil, o.now().Sub(start))
	}
	if err != nil {
		return &StepError{Step: r.state, RecordID: r.attempt.RecordID, Err: err}
	}
	return nil
}

func (o *Orchestrator) saveProgress(ctx context.Context, r *run) {
	if r.idemKey == "" {
		return
	}
	a := r.attempt
	e := idempotency.Entry{AttemptID: a.ID, RecordID: a.RecordID, DocumentID: a.DocumentID, LinkID: a.LinkID}
	if err := o.idem.Save(context.WithoutCancel(ctx), r.idemKey, e); err != nil {
		r.log.Warn("save idempotency progress", zap.Error(err))
	}
}

// record writes the ledger entry and logs the outcome. A failed ledger write
// is logged and never changes the result.
func (o *Orchestrator) record(ctx context.Context, r *run, err error) {
	a := r.attempt
	finished := o.now()
	entry := &models.Attempt{
		AttemptID:      a.ID,
		RoundID:        r.round.ID,
		Status:         models.AttemptComplete,
		State:          r.state.String(),
		RecordID:       a.RecordID,
		DocumentID:     a.DocumentID,
		LinkID:         a.LinkID,
		IdempotencyKey: a.IdempotencyKey,
		ReceivedAt:     a.ReceivedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:     finished.UTC().Format(time.RFC3339Nano),
		DurationMs:     finished.Sub(a.ReceivedAt).Milliseconds(),
	}
	if r.file != nil {
		entry.Attachment = r.file.FileName()
	}

	var stepErr *StepError
	switch {
	case err == nil:
		r.log.Info("submission complete", zap.String("recordId", a.RecordID), zap.String("linkId", a.LinkID))
	case errors.As(err, &stepErr) && stepErr.RecordID != "":
		entry.Status = models.AttemptPartial
		entry.FailedStep = stepErr.Step.String()
		entry.Error = err.Error()
		if o.metrics != nil {
			o.metrics.RecordPartialWrite(r.round.ID)
		}
		r.log.Error("attachment not attached to created record",
			zap.String("recordId", a.RecordID), zap.String("documentId", a.DocumentID),
			zap.String("step", entry.FailedStep), zap.Error(err))
	default:
		entry.Status = models.AttemptAborted
		if errors.As(err, &stepErr) {
			entry.FailedStep = stepErr.Step.String()
		}
		entry.Error = err.Error()
		r.log.Error("submission aborted", zap.String("step", entry.FailedStep), zap.Error(err))
	}

	if o.ledger == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, lerr := o.ledger.Create(lctx, entry); lerr != nil {
		r.log.Error("ledger write failed", zap.String("status", string(entry.Status)), zap.Error(lerr))
	}
}
