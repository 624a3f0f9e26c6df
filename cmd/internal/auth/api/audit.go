package api

import (
	"context"
	"log/slog"
	"time"
)

// Login audit events go to the structured log. They never carry the password or token.

func (h *Handler) auditLoginFailed(ctx context.Context, userID, ip, ua, email, reason string) {
	h.metrics.login(reason)
	attrs := []any{"ip", ip, "ua", ua, "email", email, "reason", reason}
	if userID != "" {
		attrs = append(attrs, "user_id", userID)
	}
	h.log.InfoContext(ctx, "auth.login.failed", attrs...)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, ip, ua, email string) {
	h.metrics.login("success")
	h.log.InfoContext(ctx, "auth.login.success", "user_id", userID, "ip", ip, "ua", ua, "email", email)
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip, ua, email string, retryAfter time.Duration) {
	h.metrics.login("rate_limited")
	h.log.LogAttrs(ctx, slog.LevelWarn, "auth.login.rate_limited",
		slog.String("ip", ip),
		slog.String("ua", ua),
		slog.String("email", email),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}
