package principal

import "context"

type ctxKey struct{}

// NewContext returns a context carrying the principal. The transport
// layer stamps it after authentication; the restricted store reads it
// back on every call.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal on the context, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}
