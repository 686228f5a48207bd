package authguard

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventRateLimitFailOpen    = "rate_limit_fail_open"
	auditEventRateLimitUnavailable = "rate_limit_unavailable"
	auditEventOTPIssued            = "otp_issued"
	auditEventOTPResent            = "otp_resent"
	auditEventOTPDeliveryFailed    = "otp_delivery_failed"
	auditEventOTPVerified          = "otp_verified"
	auditEventOTPVerifyFailed      = "otp_verify_failed"
	auditEventOTPStoreUnavailable  = "otp_store_unavailable"
	auditEventGrantIssued          = "grant_issued"
	auditEventGrantIssueFailed     = "grant_issue_failed"
)

// AuditErrorCode is the stable error string carried in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrInvalidClient     AuditErrorCode = "invalid_client"
	auditErrInvalidRequest    AuditErrorCode = "invalid_request"
	auditErrInvalidCode       AuditErrorCode = "invalid_code"
	auditErrExpired           AuditErrorCode = "expired"
	auditErrAttemptsExhausted AuditErrorCode = "attempts_exhausted"
	auditErrNotFound          AuditErrorCode = "not_found"
	auditErrAlreadyVerified   AuditErrorCode = "already_verified"
	auditErrDeliveryFailed    AuditErrorCode = "delivery_failed"
	auditErrGrant             AuditErrorCode = "grant_failed"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

type auditSubject struct {
	userID   string
	purpose  Purpose
	recordID string
	endpoint string
	clientID string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
	code AuditErrorCode,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if reqID := requestIDFromContext(ctx); reqID != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = reqID
	}

	clientID := subject.clientID
	if clientID == "" {
		clientID = ClientIDFromContext(ctx)
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    subject.userID,
		Purpose:   string(subject.purpose),
		RecordID:  subject.recordID,
		ClientID:  clientID,
		Endpoint:  subject.endpoint,
		Success:   success,
		Error:     string(code),
		Metadata:  metadata,
	})
}

func (e *Engine) emitRateLimit(ctx context.Context, clientID, endpointID string, d RateDecision) {
	e.metricInc(MetricRateLimitRejected)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, auditSubject{
		endpoint: endpointID,
		clientID: clientID,
	}, auditErrRateLimited, func() map[string]string {
		return map[string]string{
			"count":       strconv.FormatInt(d.Count, 10),
			"limit":       strconv.Itoa(d.Limit),
			"retry_after": d.RetryAfter.String(),
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidClientID):
		return auditErrInvalidClient
	case errors.Is(err, ErrOTPInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrOTPNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrNotificationFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrGrantUnavailable):
		return auditErrGrant
	case errors.Is(err, ErrRateLimitUnavailable),
		errors.Is(err, ErrOTPUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func outcomeAuditCode(o OTPOutcome) AuditErrorCode {
	switch o {
	case OutcomeVerified:
		return ""
	case OutcomeInvalidCode:
		return auditErrInvalidCode
	case OutcomeExpired:
		return auditErrExpired
	case OutcomeAttemptsExhausted:
		return auditErrAttemptsExhausted
	case OutcomeAlreadyVerified:
		return auditErrAlreadyVerified
	default:
		return auditErrNotFound
	}
}
