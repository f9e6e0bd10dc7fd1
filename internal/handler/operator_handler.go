package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/auth"
	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/repository"
	"github.com/ethereum/esp-website-sub001/internal/service"
)

// OperatorHandler serves the operator login and the attempt ledger.
type OperatorHandler struct {
	operators *service.OperatorService
	ledger    *service.LedgerService
	log       *zap.Logger
}

func NewOperatorHandler(operators *service.OperatorService, ledger *service.LedgerService, log *zap.Logger) *OperatorHandler {
	return &OperatorHandler{operators: operators, ledger: ledger, log: log}
}

func (h *OperatorHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	result, err := h.operators.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		h.log.Error("operator login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *OperatorHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetOperator(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	op, err := h.operators.Me(r.Context(), claims.OperatorID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *OperatorHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	status := models.AttemptStatus(q.Get("status"))
	switch status {
	case "", models.AttemptComplete, models.AttemptAborted, models.AttemptPartial:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	page, err := h.ledger.List(r.Context(), repository.AttemptFilter{
		Status:  status,
		RoundID: q.Get("round"),
		Skip:    skip,
		Limit:   limit,
	})
	if err != nil {
		h.log.Error("list attempts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OperatorHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Get(r.Context(), chi.URLParam(r, "attemptID"))
	if errors.Is(err, service.ErrAttemptNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("get attempt", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
