package facade

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/auth/sessiontoken"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
	clockport "github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/clock"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// Tokens mints and verifies session tokens.
type Tokens interface {
	Issue(subject, email string) (sessiontoken.Issued, error)
	Verify(ctx context.Context, token string) (string, error)
}

// Backend is the access point to the realtime store and accounts. Build one
// at startup and share it; it is safe for concurrent use.
type Backend struct {
	store    realtime.Store
	accounts accountrepo.Repository
	tokens   Tokens
	clk      clockport.Clock

	members   *Collection
	lineItems *Collection

	newAccountID func() string
	bcryptCost   int
}

func New(store realtime.Store, accounts accountrepo.Repository, tokens Tokens, clk clockport.Clock) *Backend {
	return &Backend{
		store:     store,
		accounts:  accounts,
		tokens:    tokens,
		clk:       clk,
		members:   &Collection{name: domain.CollectionMembers, store: store},
		lineItems: &Collection{name: domain.CollectionLineItems, store: store, deletable: true},
		newAccountID: func() string {
			return uuid.NewString()
		},
		bcryptCost: bcrypt.DefaultCost,
	}
}

func (b *Backend) Members() *Collection   { return b.members }
func (b *Backend) LineItems() *Collection { return b.lineItems }

// Collection returns the handle for name, if the relay serves it.
func (b *Backend) Collection(name domain.Collection) (*Collection, bool) {
	switch name {
	case domain.CollectionMembers:
		return b.members, true
	case domain.CollectionLineItems:
		return b.lineItems, true
	default:
		return nil, false
	}
}

// NewAuth returns a signed-out authentication handle for one front-end session.
func (b *Backend) NewAuth() *Auth {
	return &Auth{backend: b, listeners: map[int]func(bool){}}
}

// CreateAccount stores a new sign-in account with a bcrypt hash of password.
func (b *Backend) CreateAccount(ctx context.Context, email, password string) (accountrepo.Account, error) {
	email = domain.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, "<> ") {
		return accountrepo.Account{}, fmt.Errorf("%w: email %q", ErrInvalidCredentials, email)
	}
	if password == "" {
		return accountrepo.Account{}, fmt.Errorf("%w: password must be non-empty", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.bcryptCost)
	if err != nil {
		return accountrepo.Account{}, fmt.Errorf("hash password: %w", err)
	}
	acct := accountrepo.Account{
		ID:           b.newAccountID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    b.clk.Now().UTC(),
	}
	if err := b.accounts.Create(ctx, acct); err != nil {
		return accountrepo.Account{}, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}
