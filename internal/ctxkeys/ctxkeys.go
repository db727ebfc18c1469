// Package ctxkeys holds the request-scoped values set by the HTTP middleware
// chain. Workflow-scoped values (run id, workflow id, node id) live in types.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
	clientIPKey  contextKey = "client_ip"
)

// Principal 已认证的调用方
type Principal struct {
	// Subject 为 JWT sub 或 API Key 的脱敏标识
	Subject string
	// Method 为认证方式：api_key 或 jwt
	Method string
}

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPrincipal 设置认证主体
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom 获取认证主体
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	v, ok := ctx.Value(principalKey).(Principal)
	if !ok || v.Subject == "" {
		return Principal{}, false
	}
	return v, true
}

// WithClientIP 设置客户端 IP
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP 获取客户端 IP
func ClientIP(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientIPKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
