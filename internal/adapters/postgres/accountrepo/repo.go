package accountrepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
)

// Repo is a Postgres implementation of accountrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, a accountrepo.Account) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	if a.ID == "" {
		return accountrepo.ErrAlreadyExists
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id,
			email,
			password_hash,
			created_at
		) VALUES ($1, $2, $3, $4)
	`,
		a.ID,
		domain.NormalizeEmail(a.Email),
		a.PasswordHash,
		a.CreatedAt.UTC(),
	)
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode {
			switch pe.ConstraintName {
			case "accounts_pkey", "accounts_email_unique":
				return accountrepo.ErrAlreadyExists
			default:
				return err
			}
		}
		return err
	}
	return nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (accountrepo.Account, error) {
	if r.pool == nil {
		return accountrepo.Account{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM accounts
		WHERE email = $1
	`, domain.NormalizeEmail(email))
	return scanAccount(row)
}

func (r *Repo) GetByID(ctx context.Context, id string) (accountrepo.Account, error) {
	if r.pool == nil {
		return accountrepo.Account{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (accountrepo.Account, error) {
	var a accountrepo.Account
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accountrepo.Account{}, accountrepo.ErrNotFound
		}
		return accountrepo.Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}
