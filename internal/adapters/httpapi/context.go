package httpapi

import (
	"context"
	"log/slog"
	"net/http"
)

type subjectCtxKey struct{}

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectCtxKey{}, subject)
}

// subjectFrom returns the account subject set by the auth middleware.
func subjectFrom(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectCtxKey{}).(string)
	return sub, ok && sub != ""
}

// requestLogger tags logger with the caller's subject, when known.
func requestLogger(logger *slog.Logger, r *http.Request) *slog.Logger {
	if sub, ok := subjectFrom(r.Context()); ok {
		return logger.With("subject", sub)
	}
	return logger
}
