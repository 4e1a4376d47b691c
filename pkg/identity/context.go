package identity

import "context"

type contextKey struct{}

// WithIdentity stores a resolved identity in ctx.
func WithIdentity(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or ErrUnavailable.
func FromContext(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrUnavailable
	}
	id, _ := ctx.Value(contextKey{}).(string)
	if id == "" {
		return "", ErrUnavailable
	}
	return id, nil
}
