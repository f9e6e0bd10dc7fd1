package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/ethereum/esp-website-sub001/internal/db"
	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/oxidb"
)

const AttemptsCollection = "grant_attempts"

// AttemptFilter narrows a ledger listing. Empty fields match everything.
type AttemptFilter struct {
	Status  models.AttemptStatus
	RoundID string
	Skip    int
	Limit   int
}

func (f AttemptFilter) query() map[string]any {
	q := map[string]any{}
	if f.Status != "" {
		q["status"] = string(f.Status)
	}
	if f.RoundID != "" {
		q["roundId"] = f.RoundID
	}
	return q
}

// AttemptStore is the attempt ledger.
type AttemptStore interface {
	Create(ctx context.Context, a *models.Attempt) (string, error)
	FindByAttemptID(ctx context.Context, attemptID string) (*models.Attempt, error)
	List(ctx context.Context, f AttemptFilter) ([]models.Attempt, int, error)
}

type AttemptRepo struct {
	pool *db.Pool
}

func NewAttemptRepo(pool *db.Pool) *AttemptRepo {
	return &AttemptRepo{pool: pool}
}

func (r *AttemptRepo) EnsureIndexes(ctx context.Context) error {
	c := r.pool.Get()
	if err := c.CreateUniqueIndex(ctx, AttemptsCollection, "attemptId"); err != nil {
		return err
	}
	if err := c.CreateIndex(ctx, AttemptsCollection, "status"); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, AttemptsCollection, []string{"roundId", "receivedAt"})
}

func (r *AttemptRepo) Create(ctx context.Context, a *models.Attempt) (string, error) {
	doc, err := toDoc(a)
	if err != nil {
		return "", err
	}
	result, err := r.pool.Get().Insert(ctx, AttemptsCollection, doc)
	if err != nil {
		return "", err
	}
	return extractID(result), nil
}

func (r *AttemptRepo) FindByAttemptID(ctx context.Context, attemptID string) (*models.Attempt, error) {
	doc, err := r.pool.Get().FindOne(ctx, AttemptsCollection, map[string]any{"attemptId": attemptID})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return fromDoc[models.Attempt](doc)
}

func (r *AttemptRepo) List(ctx context.Context, f AttemptFilter) ([]models.Attempt, int, error) {
	c := r.pool.Get()
	query := f.query()

	total, err := c.Count(ctx, AttemptsCollection, query)
	if err != nil {
		return nil, 0, err
	}

	opts := &oxidb.FindOptions{Sort: map[string]any{"receivedAt": -1}, Skip: &f.Skip}
	if f.Limit > 0 {
		opts.Limit = &f.Limit
	}
	docs, err := c.Find(ctx, AttemptsCollection, query, opts)
	if err != nil {
		return nil, 0, err
	}

	out := make([]models.Attempt, 0, len(docs))
	for _, d := range docs {
		a, err := fromDoc[models.Attempt](d)
		if err != nil {
			continue
		}
		out = append(out, *a)
	}
	return out, total, nil
}

// MemoryAttemptRepo is the ledger used when no OxiDB server is configured.
// Entries are lost on restart.
type MemoryAttemptRepo struct {
	mu      sync.RWMutex
	nextID  int
	entries []models.Attempt
}

func NewMemoryAttemptRepo() *MemoryAttemptRepo {
	return &MemoryAttemptRepo{}
}

func (r *MemoryAttemptRepo) Create(_ context.Context, a *models.Attempt) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e := *a
	e.ID = strconv.Itoa(r.nextID)
	r.entries = append(r.entries, e)
	return e.ID, nil
}

func (r *MemoryAttemptRepo) FindByAttemptID(_ context.Context, attemptID string) (*models.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.entries {
		if r.entries[i].AttemptID == attemptID {
			e := r.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (r *MemoryAttemptRepo) List(_ context.Context, f AttemptFilter) ([]models.Attempt, int, error) {
	r.mu.RLock()
	var matched []models.Attempt
	for _, e := range r.entries {
		if (f.Status == "" || e.Status == f.Status) && (f.RoundID == "" || e.RoundID == f.RoundID) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ReceivedAt > matched[j].ReceivedAt
	})
	total := len(matched)
	if f.Skip >= total {
		return []models.Attempt{}, total, nil
	}
	matched = matched[f.Skip:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}
