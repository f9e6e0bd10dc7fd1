package repository

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/ethereum/esp-website-sub001/internal/db"
	"github.com/ethereum/esp-website-sub001/internal/models"
)

const OperatorsCollection = "grant_operators"

var ErrDuplicateEmail = errors.New("email already registered")

type OperatorStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Operator, error)
	FindByID(ctx context.Context, id string) (*models.Operator, error)
	Create(ctx context.Context, o *models.Operator) (string, error)
}

type OperatorRepo struct {
	pool *db.Pool
}

func NewOperatorRepo(pool *db.Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

func (r *OperatorRepo) EnsureIndexes(ctx context.Context) error {
	return r.pool.Get().CreateUniqueIndex(ctx, OperatorsCollection, "email")
}

func (r *OperatorRepo) FindByEmail(ctx context.Context, email string) (*models.Operator, error) {
	doc, err := r.pool.Get().FindOne(ctx, OperatorsCollection, map[string]any{"email": email})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return fromDoc[models.Operator](doc)
}

func (r *OperatorRepo) FindByID(ctx context.Context, id string) (*models.Operator, error) {
	doc, err := r.pool.Get().FindOne(ctx, OperatorsCollection, map[string]any{"_id": toNumericID(id)})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return fromDoc[models.Operator](doc)
}

func (r *OperatorRepo) Create(ctx context.Context, o *models.Operator) (string, error) {
	doc, err := toDoc(o)
	if err != nil {
		return "", err
	}
	result, err := r.pool.Get().Insert(ctx, OperatorsCollection, doc)
	if err != nil {
		return "", err
	}
	return extractID(result), nil
}

type MemoryOperatorRepo struct {
	mu      sync.RWMutex
	byEmail map[string]models.Operator
}

func NewMemoryOperatorRepo() *MemoryOperatorRepo {
	return &MemoryOperatorRepo{byEmail: map[string]models.Operator{}}
}

func (r *MemoryOperatorRepo) FindByEmail(_ context.Context, email string) (*models.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *MemoryOperatorRepo) FindByID(_ context.Context, id string) (*models.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.byEmail {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, nil
}

func (r *MemoryOperatorRepo) Create(_ context.Context, o *models.Operator) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[o.Email]; ok {
		return "", ErrDuplicateEmail
	}
	e := *o
	e.ID = strconv.Itoa(len(r.byEmail) + 1)
	r.byEmail[e.Email] = e
	return e.ID, nil
}
