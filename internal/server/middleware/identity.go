// Package middleware provides the HTTP admission chain: request identity,
// logging, collapsing, rate limiting, throttling, concurrency limiting, and
// response caching. Every filter works on plain net/http handlers so the
// chain can buffer and rewrite responses.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	pkglog "SurgeGate/pkg/log"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// clientIPContextKey is the context key for the resolved client IP
	clientIPContextKey contextKey = "client_ip"
	// authenticatedContextKey is the context key for the authenticated flag
	authenticatedContextKey contextKey = "authenticated"
)

// Identify resolves the client identity for every request: client IP,
// request ID, and whether the request carries credentials. The values are
// injected into the request context for the gates downstream.
//
// No credential validation happens here. The authenticated flag only
// steers cache bypass and logging; the protected backend does its own
// authorization.
func Identify(logger *pkglog.LogHelper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := extractClientIP(r)

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}

			ctx := pkglog.WithRequestContext(r.Context(), requestID, clientIP, r.URL.Path)
			ctx = context.WithValue(ctx, clientIPContextKey, clientIP)

			apiKey := bearerToken(r)
			authenticated := apiKey != ""
			if authenticated {
				maskedKey := maskAPIKey(apiKey)
				logger.Debugw("authenticated request, cache restricted to shared endpoints",
					"api_key_masked", maskedKey,
					"client_ip", clientIP)
				pkglog.SetMetadata(ctx, "api_key_masked", maskedKey)
			}
			ctx = context.WithValue(ctx, authenticatedContextKey, authenticated)

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFrom returns the client IP resolved by Identify, or "" when the
// request skipped the chain.
func ClientIPFrom(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPContextKey).(string); ok {
		return ip
	}
	return ""
}

// IsAuthenticated reports whether the request carried credentials.
func IsAuthenticated(ctx context.Context) bool {
	if v, ok := ctx.Value(authenticatedContextKey).(bool); ok {
		return v
	}
	return false
}

// extractClientIP resolves the real client IP from the request.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// RemoteAddr carries an ephemeral port; strip it so one client maps
	// to one rate limit bucket.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// bearerToken extracts credentials from Authorization or X-API-Key.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return strings.TrimSpace(token)
	}
	return r.Header.Get("X-API-Key")
}

// maskAPIKey masks an API key, showing only the first 8 characters.
// Example: "sk-1234567890abcdef" -> "sk-12345***"
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "***"
}
