package main

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteErrorMessage(w, r, http.StatusInternalServerError,
						types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID（保留客户端提供的值），
// 并把请求 ID 与客户端 IP 放入 context
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := ctxkeys.WithRequestID(r.Context(), id)
			ctx = ctxkeys.WithClientIP(ctx, remoteIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			requestID, _ := ctxkeys.RequestID(r.Context())
			clientIP, _ := ctxkeys.ClientIP(r.Context())
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int64("bytes", rw.Size),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
				zap.String("client_ip", clientIP),
			)
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// MetricsMiddleware: records HTTP request metrics via metrics.Collector
// =============================================================================

// MetricsMiddleware records request duration, status and response size. The
// path label is the matched route pattern reported by RecordRoute, so
// workflow and run ids do not become label values.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := &matchedRoute{}
			r = r.WithContext(context.WithValue(r.Context(), matchedRouteKey{}, route))
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			collector.RecordHTTPRequest(r.Method, route.label(r), rw.StatusCode, time.Since(start), rw.Size)
		})
	}
}

type matchedRouteKey struct{}

// matchedRoute carries the mux pattern back out through middlewares that
// replace the request with r.WithContext.
type matchedRoute struct {
	pattern string
}

// RecordRoute must wrap the ServeMux directly. After routing it copies
// r.Pattern to the MetricsMiddleware further out.
func RecordRoute() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if route, ok := r.Context().Value(matchedRouteKey{}).(*matchedRoute); ok {
				route.pattern = r.Pattern
			}
		})
	}
}

// label returns the route pattern without its method, falling back to the
// path with id-looking segments replaced by ":id" when no pattern matched.
func (m *matchedRoute) label(r *http.Request) string {
	p := m.pattern
	if p == "" {
		p = r.Pattern
	}
	if p == "" {
		return normalizePath(r.URL.Path)
	}
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// pathSegmentPattern matches path segments that look like dynamic identifiers:
// UUIDs, hex strings (8+ chars), or numeric IDs.
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// OTelTracing: OpenTelemetry HTTP tracing middleware
// =============================================================================

// OTelTracing creates a server span for each request, continuing any trace
// context found in the request headers.
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otel.Tracer("agentgraph/http")
			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if id, ok := ctxkeys.RequestID(ctx); ok {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// =============================================================================
// CORS
// =============================================================================

// CORS 跨域中间件。allowedOrigins 为空时不设置任何 CORS 头，"*" 允许所有来源。
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, allowed := originSet[origin]
			if !allowed && !allowAll {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Auth: API key or JWT bearer token
// =============================================================================

// Auth 认证中间件：X-API-Key 命中配置的密钥，或 Authorization: Bearer
// 携带以 jwtSecret 签名（HS256）的有效 JWT。两者都未配置时不做认证。
// skipPaths 中的路径不需要认证。
func Auth(apiKeys []string, jwtSecret string, skipPaths []string, logger *zap.Logger) Middleware {
	if len(apiKeys) == 0 && jwtSecret == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}
	hmacSecret := []byte(jwtSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" && len(apiKeys) > 0 {
				if !matchAPIKey(apiKeys, key) {
					writeAuthError(w, r, "invalid API key", logger)
					return
				}
				p := ctxkeys.Principal{Subject: keyFingerprint(key), Method: "api_key"}
				next.ServeHTTP(w, r.WithContext(ctxkeys.WithPrincipal(r.Context(), p)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if len(hmacSecret) > 0 && strings.HasPrefix(authHeader, "Bearer ") {
				claims := jwt.RegisteredClaims{}
				_, err := parser.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), &claims,
					func(*jwt.Token) (any, error) { return hmacSecret, nil })
				if err != nil {
					logger.Debug("JWT validation failed", zap.Error(err))
					writeAuthError(w, r, "invalid or expired token", logger)
					return
				}
				p := ctxkeys.Principal{Subject: claims.Subject, Method: "jwt"}
				next.ServeHTTP(w, r.WithContext(ctxkeys.WithPrincipal(r.Context(), p)))
				return
			}

			writeAuthError(w, r, "missing credentials", logger)
		})
	}
}

func matchAPIKey(keys []string, key string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// keyFingerprint 返回 API Key 的短哈希，用于日志与限流键
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key-" + hex.EncodeToString(sum[:6])
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string, logger *zap.Logger) {
	handlers.WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized, message, logger)
}

// =============================================================================
// RateLimiter: per-caller rate limiting
// =============================================================================

// RateLimiter 按调用方限流：已认证请求以认证主体为键，否则以客户端 IP 为键。
// rps <= 0 时不限流。空闲超过 3 分钟的限流器在后台清理，直到 ctx 结束。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for key, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, key)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			mu.Lock()
			v, exists := visitors[key]
			if !exists {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[key] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				logger.Debug("rate limited", zap.String("key", key))
				w.Header().Set("Retry-After", "1")
				handlers.WriteErrorMessage(w, r, http.StatusTooManyRequests, types.ErrRateLimited,
					"too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if p, ok := ctxkeys.PrincipalFrom(r.Context()); ok && p.Subject != "" {
		return fmt.Sprintf("%s:%s", p.Method, p.Subject)
	}
	if ip, ok := ctxkeys.ClientIP(r.Context()); ok {
		return "ip:" + ip
	}
	return "ip:" + remoteIP(r)
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
