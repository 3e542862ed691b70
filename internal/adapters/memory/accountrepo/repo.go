package accountrepo

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
)

// Repo is an in-memory implementation of accountrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	byID      map[string]accountrepo.Account
	idByEmail map[string]string
}

func NewRepo() *Repo {
	return &Repo{
		byID:      make(map[string]accountrepo.Account),
		idByEmail: make(map[string]string),
	}
}

func (r *Repo) Create(ctx context.Context, a accountrepo.Account) error {
	_ = ctx
	if a.ID == "" {
		return accountrepo.ErrAlreadyExists // treat empty ID as invalid
	}
	email := domain.NormalizeEmail(a.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[a.ID]; ok {
		return accountrepo.ErrAlreadyExists
	}
	if _, ok := r.idByEmail[email]; ok {
		return accountrepo.ErrAlreadyExists
	}

	a.Email = email
	r.byID[a.ID] = cloneAccount(a)
	r.idByEmail[email] = a.ID
	return nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (accountrepo.Account, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idByEmail[domain.NormalizeEmail(email)]
	if !ok {
		return accountrepo.Account{}, accountrepo.ErrNotFound
	}
	a, ok := r.byID[id]
	if !ok {
		return accountrepo.Account{}, accountrepo.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (accountrepo.Account, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return accountrepo.Account{}, accountrepo.ErrNotFound
	}
	return cloneAccount(a), nil
}

func cloneAccount(a accountrepo.Account) accountrepo.Account {
	out := a
	out.PasswordHash = append([]byte(nil), a.PasswordHash...)
	return out
}
