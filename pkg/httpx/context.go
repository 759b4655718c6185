package httpx

type ctxKey string

const (
	// CtxKeyUserID carries the authenticated subject id, set by the
	// service's auth middleware and read by rate limiting.
	CtxKeyUserID ctxKey = "user_id"
)
