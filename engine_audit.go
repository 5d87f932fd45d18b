package goSession

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/internal/audit"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrInvalidSession     AuditErrorCode = "invalid_session"
	auditErrSecurityCheck      AuditErrorCode = "security_check_failed"
	auditErrRoleNotFound       AuditErrorCode = "role_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// auditEmitter adapts the engine's dispatcher to the Emitter interfaces of
// the access, monitor and sweeper packages, filling in the caller's IP.
type auditEmitter struct {
	d *audit.Dispatcher
}

func (a auditEmitter) Emit(ctx context.Context, event audit.Event) {
	if a.d == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	a.d.Emit(ctx, event)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	allowed bool,
	userID string,
	sessionID string,
	err error,
	detailBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	// Detail is built lazily so disabled auditing costs nothing.
	var detail map[string]string
	if detailBuilder != nil {
		detail = detailBuilder()
	}

	event := audit.Event{
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		Allowed:   allowed,
		Detail:    detail,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	auditEmitter{d: e.audit}.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrInvalidSession):
		return auditErrInvalidSession
	case errors.Is(err, ErrSecurityCheckFailed):
		return auditErrSecurityCheck
	case errors.Is(err, ErrRoleNotFound):
		return auditErrRoleNotFound
	case errors.Is(err, ErrRepository):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
