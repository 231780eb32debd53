package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ConnectionIDKey is the context key for fallback connection IDs.
	ConnectionIDKey contextKey = "connection_id"

	// TransportKey is the context key for the serving transport name.
	TransportKey contextKey = "transport"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithConnectionID adds a connection ID to the context.
func WithConnectionID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connID)
}

// GetConnectionID retrieves the connection ID from the context.
func GetConnectionID(ctx context.Context) string {
	if connID, ok := ctx.Value(ConnectionIDKey).(string); ok {
		return connID
	}
	return ""
}

// WithTransport adds the transport name to the context.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, TransportKey, transport)
}

// GetTransport retrieves the transport name from the context.
func GetTransport(ctx context.Context) string {
	if transport, ok := ctx.Value(TransportKey).(string); ok {
		return transport
	}
	return ""
}

// extractContextAttrs returns the log attributes carried by ctx.
func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), v))
	}
	if v := GetConnectionID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(ConnectionIDKey), v))
	}
	if v := GetTransport(ctx); v != "" {
		attrs = append(attrs, slog.String(string(TransportKey), v))
	}
	return attrs
}
