package handler

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/ingest"
	"github.com/ethereum/esp-website-sub001/internal/metrics"
	"github.com/ethereum/esp-website-sub001/internal/middleware"
	"github.com/ethereum/esp-website-sub001/internal/response"
	"github.com/ethereum/esp-website-sub001/internal/rounds"
	"github.com/ethereum/esp-website-sub001/internal/submission"
)

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	VerificationTokenHeader = "X-Verification-Token"
	maxIdempotencyKey       = 128
)

type SubmissionHandler struct {
	rounds  *rounds.Registry
	next    submission.Handler
	limits  ingest.Limits
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewSubmissionHandler serves submissions through next, which is the
// verification-wrapped pipeline.
func NewSubmissionHandler(reg *rounds.Registry, next submission.Handler, limits ingest.Limits, m *metrics.Metrics, log *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{rounds: reg, next: next, limits: limits, metrics: m, log: log}
}

func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")
	if _, err := h.rounds.Get(roundID); err != nil {
		writeError(w, http.StatusNotFound, "unknown round")
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKey {
		writeError(w, http.StatusBadRequest, "invalid idempotency key")
		return
	}

	a := &submission.Attempt{
		ID:             uuid.NewString(),
		RoundID:        roundID,
		RemoteIP:       remoteIP(r),
		IdempotencyKey: key,
		ReceivedAt:     time.Now(),
	}
	log := h.log.With(
		zap.String("requestId", middleware.RequestID(r.Context())),
		zap.String("attempt", a.ID),
		zap.String("round", roundID),
	)

	err := h.handle(r, a, log)
	result := response.Map(err)
	switch result.Kind {
	case response.ServiceUnavailable:
		log.Error("submission failed", zap.Error(err))
	case response.ValidationFailed:
		log.Info("submission rejected", zap.String("code", result.Code), zap.Int("fields", len(result.Fields)))
	}
	if h.metrics != nil {
		h.metrics.RecordSubmission(roundID, result.Kind.String())
	}
	response.Write(w, result, a.ID)
}

func (h *SubmissionHandler) handle(r *http.Request, a *submission.Attempt, log *zap.Logger) error {
	payload, err := ingest.Decode(r, h.limits)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := payload.Cleanup(); cerr != nil {
			log.Warn("remove attachment temp file", zap.Error(cerr))
		}
	}()

	a.Values = payload.Values
	a.Attachment = payload.Attachment
	a.Token = payload.Token
	if a.Token == "" {
		a.Token = r.Header.Get(VerificationTokenHeader)
	}
	return h.next.Handle(r.Context(), a)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
