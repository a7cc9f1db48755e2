package domain

import "context"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
)

// Caller is a pre-validated identity supplied by the transport layer.
type Caller struct {
	Subject    string
	Role       Role
	LocationID string
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
