package audit

import "context"

// RequestInfo is the request metadata copied into audit records.
type RequestInfo struct {
	Method        string
	URL           string
	ClientAddress string
	UserAgent     string
	SessionID     string
	RequestID     string
	TraceID       string
}

type requestKey struct{}

// WithRequest attaches request metadata to ctx.
func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestKey{}, info)
}

// RequestFromContext returns the request metadata of ctx. Calls outside an
// HTTP request get a zero RequestInfo.
func RequestFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestKey{}).(RequestInfo)
	return info, ok
}
