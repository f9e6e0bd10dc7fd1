package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/esp-website-sub001/internal/auth"
	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/repository"
)

func TestOperatorService_SeedAndLogin(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens("s3cret", time.Hour)
	svc := NewOperatorService(repository.NewMemoryOperatorRepo(), tokens)

	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	require.NoError(t, svc.SeedOperator(ctx, "ops@example.org", hash))
	require.NoError(t, svc.SeedOperator(ctx, "ops@example.org", hash), "seeding twice is a no-op")

	_, err = svc.Login(ctx, "ops@example.org", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.org", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := svc.Login(ctx, "ops@example.org", "hunter22")
	require.NoError(t, err)
	claims, err := tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Operator.ID, claims.OperatorID)

	me, err := svc.Me(ctx, claims.OperatorID)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.org", me.Email)

	_, err = svc.Me(ctx, "404")
	assert.ErrorIs(t, err, ErrOperatorNotFound)
}

func TestLedgerService(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryAttemptRepo()
	for i, st := range []models.AttemptStatus{models.AttemptComplete, models.AttemptPartial, models.AttemptComplete} {
		_, err := repo.Create(ctx, &models.Attempt{
			AttemptID:  string(rune('a' + i)),
			RoundID:    "small-grants",
			Status:     st,
			ReceivedAt: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
		})
		require.NoError(t, err)
	}
	svc := NewLedgerService(repo)

	page, err := svc.List(ctx, repository.AttemptFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, "c", page.Attempts[0].AttemptID)

	page, err = svc.List(ctx, repository.AttemptFilter{Status: models.AttemptPartial})
	require.NoError(t, err)
	require.Len(t, page.Attempts, 1)
	assert.Equal(t, "b", page.Attempts[0].AttemptID)

	page, err = svc.List(ctx, repository.AttemptFilter{Skip: 10})
	require.NoError(t, err)
	assert.NotNil(t, page.Attempts)
	assert.Empty(t, page.Attempts)

	_, err = svc.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	a, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptComplete, a.Status)
}
