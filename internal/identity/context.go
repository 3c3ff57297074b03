package identity

import "context"

type ctxKey string

const identityContextKey ctxKey = "farmledger.identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityContextKey)
	id, ok := v.(Identity)
	return id, ok
}
