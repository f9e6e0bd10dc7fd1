package service

import (
	"context"
	"errors"

	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/repository"
)

var ErrAttemptNotFound = errors.New("attempt not found")

const maxPageSize = 200

// LedgerService is the read side of the attempt ledger.
type LedgerService struct {
	attempts repository.AttemptStore
}

func NewLedgerService(attempts repository.AttemptStore) *LedgerService {
	return &LedgerService{attempts: attempts}
}

type AttemptPage struct {
	Attempts []models.Attempt `json:"attempts"`
	Total    int              `json:"total"`
	Skip     int              `json:"skip"`
	Limit    int              `json:"limit"`
}

func (s *LedgerService) List(ctx context.Context, f repository.AttemptFilter) (*AttemptPage, error) {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = 50
	}
	items, total, err := s.attempts.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Attempt{}
	}
	return &AttemptPage{Attempts: items, Total: total, Skip: f.Skip, Limit: f.Limit}, nil
}

func (s *LedgerService) Get(ctx context.Context, attemptID string) (*models.Attempt, error) {
	a, err := s.attempts.FindByAttemptID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}
