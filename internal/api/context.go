package api

import "context"

type contextKey string

const (
	ctxKeyAPIKeyHash contextKey = "api_key_hash"
	ctxKeyRequestID  contextKey = "request_id"
)

func withAPIKeyHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, ctxKeyAPIKeyHash, hash)
}

func apiKeyHashFromCtx(ctx context.Context) string {
	h, _ := ctx.Value(ctxKeyAPIKeyHash).(string)
	return h
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
