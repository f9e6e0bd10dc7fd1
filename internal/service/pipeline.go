// Package service holds the submission pipeline: sanitization, round
// validation and the CRM orchestrator, plus the operator-facing services.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/rounds"
	"github.com/ethereum/esp-website-sub001/internal/sanitize"
	"github.com/ethereum/esp-website-sub001/internal/schema"
	"github.com/ethereum/esp-website-sub001/internal/submission"
)

// Submitter persists a validated submission.
type Submitter interface {
	Submit(ctx context.Context, round *rounds.Round, a *submission.Attempt, rec schema.Record) error
}

// Pipeline is the schema-aware part of submission handling. It runs behind
// verification: sanitize, validate, then orchestrate. Validation failures
// never reach the orchestrator.
type Pipeline struct {
	rounds *rounds.Registry
	orch   Submitter
	log    *zap.Logger
}

func NewPipeline(reg *rounds.Registry, orch Submitter, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{rounds: reg, orch: orch, log: log}
}

func (p *Pipeline) Handle(ctx context.Context, a *submission.Attempt) error {
	round, err := p.rounds.Get(a.RoundID)
	if err != nil {
		return err
	}

	values := sanitize.Values(a.Values)
	rec, err := round.Schema.Validate(values)
	if err != nil {
		p.log.Debug("validation failed", zap.String("attempt", a.ID), zap.String("round", round.ID), zap.Error(err))
		return err
	}
	return p.orch.Submit(ctx, round, a, rec)
}
