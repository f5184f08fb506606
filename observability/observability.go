// Package observability implements the per-request correlation ID and
// log-field discipline (C19): a context-carried correlation id (honoring
// an inbound X-Correlation-ID header, generating one otherwise), a
// slog.Handler wrapper that injects it plus matter/user scope into every
// record, and forbidden-field redaction.
//
// Grounded on cmd/server/middleware.go's logMiddleware (the teacher's only
// structured-logging call site) and goreason.go's slog.Info/Warn key-value
// idiom; generalized from one-off per-call attrs into a handler that
// injects request scope automatically so call sites never have to thread
// correlation_id by hand.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	matterIDKey
	userIDKey
)

const correlationHeader = "X-Correlation-ID"

// WithCorrelationID reads X-Correlation-ID off the request, honoring it if
// present, generating a UUID otherwise, and returns a context carrying it.
func WithCorrelationID(ctx context.Context, r *http.Request) context.Context {
	id := r.Header.Get(correlationHeader)
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the request's correlation id, or "" if none was set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithMatterID attaches a matter_id to the log scope.
func WithMatterID(ctx context.Context, matterID string) context.Context {
	return context.WithValue(ctx, matterIDKey, matterID)
}

// WithUserID attaches a user_id to the log scope.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// forbiddenFields never appear in a log record's attributes, even if a
// caller tries to pass them; case-insensitive substring match on the key.
var forbiddenFields = []string{"token", "authorization", "password", "secret", "jwt", "api_key", "apikey"}

func isForbidden(key string) bool {
	lower := strings.ToLower(key)
	for _, f := range forbiddenFields {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// Handler wraps an slog.Handler, injecting correlation_id and (when in
// scope) matter_id/user_id into every record, and dropping forbidden
// fields before they reach the sink.
type Handler struct {
	next slog.Handler
}

func NewHandler(next slog.Handler) *Handler {
	return &Handler{next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	filtered := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if !isForbidden(a.Key) {
			filtered.AddAttrs(a)
		}
		return true
	})

	if id := CorrelationID(ctx); id != "" {
		filtered.AddAttrs(slog.String("correlation_id", id))
	}
	if mid, ok := ctx.Value(matterIDKey).(string); ok && mid != "" {
		filtered.AddAttrs(slog.String("matter_id", mid))
	}
	if uid, ok := ctx.Value(userIDKey).(string); ok && uid != "" {
		filtered.AddAttrs(slog.String("user_id", uid))
	}

	return h.next.Handle(ctx, filtered)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

// NewSink builds the process logger, falling back to stdout text output
// if the preferred handler fails to initialize, per spec §4.19's
// requirement that sink failures never raise into request paths.
func NewSink(build func() (slog.Handler, error), fallback slog.Handler) *slog.Logger {
	h, err := build()
	if err != nil {
		slog.Default().Warn("observability: log sink init failed, degrading to fallback", "error", err)
		return slog.New(NewHandler(fallback))
	}
	return slog.New(NewHandler(h))
}
