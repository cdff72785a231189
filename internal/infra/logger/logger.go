package logger

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// New returns a singleton zap.Logger configured for structured logging.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		lg, err = cfg.Build()
	})

	return lg, err
}

// WithContext returns the process logger annotated with the request ID and, when a
// span is recording, the OpenTelemetry trace ID.
func WithContext(ctx context.Context) *zap.Logger {
	base := lg
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 2)
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("otel_trace_id", sc.TraceID().String()))
	}
	return base.With(fields...)
}

// RequestIDFromContext returns the correlation identifier stored by the request ID middleware.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(RequestIDKey{}).(string); ok {
		return val
	}
	return ""
}

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail masks email addresses, showing first 3 characters and domain
// Example: john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	matches := emailRegex.FindStringSubmatch(email)
	if len(matches) == 3 {
		return matches[1] + "***" + matches[2]
	}

	parts := strings.SplitN(email, "@", 2)
	if len(parts) == 2 {
		return "***@" + parts[1]
	}

	return "***"
}

// MaskIP performs partial IP masking, showing first 2 octets for IPv4
// Example: 192.168.1.100 -> 192.168.*.*
// For IPv6, shows first 4 groups
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ".") {
		parts := strings.Split(ip, ".")
		if len(parts) == 4 {
			return parts[0] + "." + parts[1] + ".*.*"
		}
	}

	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		if len(parts) >= 4 {
			return strings.Join(parts[:4], ":") + ":*:*:*:*"
		}
	}

	return "***"
}

// MaskKey masks the value part of a lockout identity key ("ip:<addr>", "email:<addr>").
func MaskKey(key string) string {
	kind, value, ok := strings.Cut(key, ":")
	if !ok {
		return "***"
	}

	switch kind {
	case "ip":
		return kind + ":" + MaskIP(value)
	case "email":
		return kind + ":" + MaskEmail(value)
	default:
		return kind + ":***"
	}
}

// MaskKeys applies MaskKey to every key.
func MaskKeys(keys []string) []string {
	masked := make([]string, len(keys))
	for i, key := range keys {
		masked[i] = MaskKey(key)
	}
	return masked
}
