package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/esp-website-sub001/internal/auth"
	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOperatorNotFound   = errors.New("operator not found")
)

// OperatorService authenticates the staff accounts that read the ledger.
type OperatorService struct {
	operators repository.OperatorStore
	tokens    *auth.Tokens
}

func NewOperatorService(operators repository.OperatorStore, tokens *auth.Tokens) *OperatorService {
	return &OperatorService{operators: operators, tokens: tokens}
}

type LoginResult struct {
	Token    string                  `json:"token"`
	Operator models.OperatorResponse `json:"operator"`
}

func (s *OperatorService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	op, err := s.operators.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if op == nil || !auth.CheckPassword(password, op.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Generate(op.ID, op.Email)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Operator: op.ToResponse()}, nil
}

func (s *OperatorService) Me(ctx context.Context, operatorID string) (*models.OperatorResponse, error) {
	op, err := s.operators.FindByID(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, ErrOperatorNotFound
	}
	resp := op.ToResponse()
	return &resp, nil
}

// SeedOperator creates the configured operator unless the email already
// exists. passwordHash is a bcrypt hash, never a plain password.
func (s *OperatorService) SeedOperator(ctx context.Context, email, passwordHash string) error {
	existing, err := s.operators.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = s.operators.Create(ctx, &models.Operator{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         "Operator",
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil
	}
	return err
}
