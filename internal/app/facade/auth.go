package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
)

// Session is a signed-in account.
type Session struct {
	Subject domain.SubjectID
	Email   string
	Token   string
	// ExpiresAt is zero for resumed sessions.
	ExpiresAt time.Time
}

// Auth is the authentication state of one front-end session.
type Auth struct {
	backend *Backend

	// transition serializes state changes together with their notifications.
	transition sync.Mutex

	mu        sync.Mutex
	session   *Session
	listeners map[int]func(bool)
	nextID    int
}

// SignIn checks email and password against the stored account and, on
// success, signs the session in. Failures wrap ErrSignInFailed and leave the
// current state untouched.
func (a *Auth) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", ErrSignInFailed)
	}

	acct, err := a.backend.accounts.GetByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	if err := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}

	issued, err := a.backend.tokens.Issue(acct.ID, acct.Email)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	s := Session{
		Subject:   domain.SubjectID(acct.ID),
		Email:     acct.Email,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
	}
	a.setSession(&s)
	return s, nil
}

// Resume signs the session in with a token from an earlier SignIn.
func (a *Auth) Resume(ctx context.Context, token string) (Session, error) {
	sub, err := a.backend.tokens.Verify(ctx, token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	acct, err := a.backend.accounts.GetByID(ctx, sub)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	s := Session{
		Subject: domain.SubjectID(acct.ID),
		Email:   acct.Email,
		Token:   token,
	}
	a.setSession(&s)
	return s, nil
}

// SignOut signs the session out. Signing out while signed out does nothing.
func (a *Auth) SignOut(ctx context.Context) {
	_ = ctx
	a.setSession(nil)
}

// Current returns the signed-in session, if any.
func (a *Auth) Current() (Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return Session{}, false
	}
	return *a.session, true
}

func (a *Auth) SignedIn() bool {
	_, ok := a.Current()
	return ok
}

// OnAuthStateChanged calls fn with the current state right away and again on
// every sign-in or sign-out. The returned func removes fn.
func (a *Auth) OnAuthStateChanged(fn func(signedIn bool)) (unsubscribe func()) {
	a.transition.Lock()
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	signedIn := a.session != nil
	a.mu.Unlock()

	fn(signedIn)
	a.transition.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

func (a *Auth) setSession(s *Session) {
	a.transition.Lock()
	defer a.transition.Unlock()

	a.mu.Lock()
	prev := a.session
	a.session = s
	changed := (prev == nil) != (s == nil) || (prev != nil && s != nil && prev.Subject != s.Subject)
	fns := make([]func(bool), 0, len(a.listeners))
	if changed {
		for _, fn := range a.listeners {
			fns = append(fns, fn)
		}
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(s != nil)
	}
}
