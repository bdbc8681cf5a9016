package auth

import (
	"context"
	"errors"
)

// Principal is the verified caller identity carried through request context.
type Principal struct {
	ID   string
	Role Role
}

type ctxKey int

const ctxPrincipal ctxKey = iota

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

func PrincipalFrom(ctx context.Context) (Principal, error) {
	if p, ok := ctx.Value(ctxPrincipal).(Principal); ok && p.ID != "" {
		return p, nil
	}
	return Principal{}, errors.New("principal not in context")
}
