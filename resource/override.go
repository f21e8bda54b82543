package resource

import "context"

// Override is a per-call routing override: any zero field falls back
// to the Class's configured value. spec.md §4.8 describes this as a
// task-local push/pop; Go's idiomatic equivalent is a value carried on
// context.Context, since a derived context is automatically "restored"
// for every sibling call and every exit path (including a panic
// unwinding through the caller) without any shared mutable state to
// clean up.
type Override struct {
	Exchange     string
	ExchangeType string
	RoutingKey   string
	Pool         string
}

type overrideKey struct{}

// WithOverride returns a context carrying o, shadowing any override
// already present. Scoped strictly to ctx and its descendants — a
// sibling call built from the parent context never sees it.
func WithOverride(ctx context.Context, o Override) context.Context {
	return context.WithValue(ctx, overrideKey{}, o)
}

func overrideFrom(ctx context.Context) (Override, bool) {
	o, ok := ctx.Value(overrideKey{}).(Override)
	return o, ok
}
