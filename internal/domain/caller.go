package domain

import "context"

type callerKey struct{}

// WithCaller returns a context carrying the resolved caller address.
func WithCaller(ctx context.Context, caller Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller resolved by the transport layer.
func CallerFromContext(ctx context.Context) (Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(Address)
	return caller, ok && caller != ""
}
