package accountrepo

import "errors"

var (
	// ErrNotFound indicates the requested account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrAlreadyExists indicates an account already exists with the provided ID or email.
	ErrAlreadyExists = errors.New("account already exists")
)
