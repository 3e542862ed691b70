package facade

import "errors"

var (
	// ErrMissingID is returned by Update and Delete when the record carries no usable id.
	ErrMissingID = errors.New("record id is required")
	// ErrDeleteNotSupported is returned by Delete on collections that have no delete operation.
	ErrDeleteNotSupported = errors.New("delete is not supported for this collection")
	// ErrSignInFailed wraps every sign-in and resume failure.
	ErrSignInFailed = errors.New("sign-in failed")
	// ErrInvalidCredentials is returned by CreateAccount for an unusable email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)
