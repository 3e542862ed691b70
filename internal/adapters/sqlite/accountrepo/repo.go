package accountrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
)

// Repo is a SQLite implementation of accountrepo.Repository.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, a accountrepo.Account) error {
	if a.ID == "" {
		return accountrepo.ErrAlreadyExists
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, a.ID, domain.NormalizeEmail(a.Email), a.PasswordHash, a.CreatedAt.UTC().UnixMilli())
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return accountrepo.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (accountrepo.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM accounts WHERE email = ?
	`, domain.NormalizeEmail(email))
	return scanAccount(row)
}

func (r *Repo) GetByID(ctx context.Context, id string) (accountrepo.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (accountrepo.Account, error) {
	var (
		a         accountrepo.Account
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accountrepo.Account{}, accountrepo.ErrNotFound
		}
		return accountrepo.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return a, nil
}
