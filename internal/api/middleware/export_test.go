package middleware

import "context"

// WithKeyPrefix exposes setKeyPrefix so external tests can simulate the auth
// middleware having run.
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	return setKeyPrefix(ctx, prefix)
}
