package server

import "context"

type ctxKey struct{ name string }

var userKey = &ctxKey{"user"}

// withUser attaches the authenticated username to ctx.
func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// userFrom returns the username set by authMiddleware.
func userFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok && user != ""
}
