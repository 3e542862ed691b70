package accountrepo

import (
	"context"
	"time"
)

// Account is a sign-in credential record.
//
// Email is stored normalized (see domain.NormalizeEmail); PasswordHash is a bcrypt hash.
type Account struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Repository provides access to persisted accounts.
type Repository interface {
	Create(ctx context.Context, a Account) error
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
}
