package authguard

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/authguard/internal/otp"
)

// IssueOTP generates a fresh code for (UserID, Purpose), replaces any earlier
// record, and hands the plaintext to the notifier.
//
// The record is stored before delivery is attempted. A failed or timed out
// delivery is reported through IssueResult.DeliveryErr and does not remove
// the record; callers may offer a resend.
func (e *Engine) IssueOTP(ctx context.Context, req IssueRequest) (IssueResult, error) {
	if e == nil || e.records == nil || e.notifier == nil {
		return IssueResult{}, ErrEngineNotReady
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Destination = strings.TrimSpace(req.Destination)
	if req.UserID == "" || !req.Purpose.Valid() || req.Destination == "" {
		return IssueResult{}, ErrOTPInvalidRequest
	}
	return e.issue(ctx, req, auditEventOTPIssued)
}

// ResendOTP issues a new code to the destination of the current record for
// (userID, purpose). The new record starts with a full attempt budget; the
// previous code stops matching immediately.
func (e *Engine) ResendOTP(ctx context.Context, userID string, purpose Purpose) (IssueResult, error) {
	if e == nil || e.records == nil || e.notifier == nil {
		return IssueResult{}, ErrEngineNotReady
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || !purpose.Valid() {
		return IssueResult{}, ErrOTPInvalidRequest
	}

	current, err := e.records.Current(ctx, userID, purpose)
	if err != nil {
		e.metricInc(MetricOTPUnavailable)
		e.emitAudit(ctx, auditEventOTPStoreUnavailable, false, auditSubject{userID: userID, purpose: purpose}, auditErrUnavailable, nil)
		return IssueResult{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if current == nil {
		return IssueResult{}, ErrOTPNotFound
	}

	res, err := e.issue(ctx, IssueRequest{
		UserID:      userID,
		Purpose:     purpose,
		Destination: current.Destination,
	}, auditEventOTPResent)
	if err != nil {
		return res, err
	}
	e.metricInc(MetricOTPResent)
	return res, nil
}

func (e *Engine) issue(ctx context.Context, req IssueRequest, eventType string) (IssueResult, error) {
	policy := e.config.OTP.Purposes[req.Purpose]

	code, err := otp.NewCode(e.config.OTP.Digits)
	if err != nil {
		return IssueResult{}, err
	}

	now := e.now()
	rec := &OTPRecord{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Purpose:     req.Purpose,
		Destination: req.Destination,
		CodeHash:    otp.HashCode(req.UserID, req.Purpose, code),
		State:       OTPPending,
		MaxAttempts: uint16(policy.MaxAttempts),
		CreatedAt:   now,
		ExpiresAt:   now.Add(policy.TTL),
	}

	subject := auditSubject{userID: req.UserID, purpose: req.Purpose, recordID: rec.ID}
	if err := e.records.Replace(ctx, rec); err != nil {
		e.metricInc(MetricOTPUnavailable)
		e.emitAudit(ctx, auditEventOTPStoreUnavailable, false, subject, auditErrUnavailable, nil)
		return IssueResult{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	res := IssueResult{
		RecordID:  rec.ID,
		ExpiresAt: rec.ExpiresAt,
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.Notification.Timeout)
	err = e.notifier.Send(sendCtx, Notification{
		RecordID:    rec.ID,
		Channel:     req.Purpose.Channel(),
		Destination: req.Destination,
		Purpose:     req.Purpose,
		Code:        code,
		ExpiresAt:   rec.ExpiresAt,
	})
	cancel()

	if err != nil {
		log.Printf("authguard: otp delivery failed for record %s: %v", rec.ID, err)
		res.DeliveryErr = fmt.Errorf("%w: %v", ErrNotificationFailed, err)
		e.metricInc(MetricOTPDeliveryFailure)
		e.emitAudit(ctx, auditEventOTPDeliveryFailed, false, subject, auditErrDeliveryFailed, func() map[string]string {
			return map[string]string{"channel": req.Purpose.Channel()}
		})
	} else {
		res.Delivered = true
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, eventType, true, subject, "", func() map[string]string {
		return map[string]string{
			"channel":   req.Purpose.Channel(),
			"delivered": strconv.FormatBool(res.Delivered),
			"ttl":       policy.TTL.String(),
		}
	})
	return res, nil
}

// VerifyOTP checks a submitted code against the current record.
//
// Wrong, expired and exhausted submissions are reported in
// VerifyResult.Outcome with a nil error. Errors are reserved for invalid
// requests and store failures.
func (e *Engine) VerifyOTP(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	if e == nil || e.records == nil {
		return VerifyResult{}, ErrEngineNotReady
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || !req.Purpose.Valid() {
		return VerifyResult{}, ErrOTPInvalidRequest
	}

	digest := otp.HashCode(req.UserID, req.Purpose, otp.NormalizeCode(req.Code))

	start := time.Now()
	rec, outcome, err := e.records.Attempt(ctx, req.UserID, req.Purpose, digest, e.now())
	e.metricObserve(MetricOTPVerifyLatency, time.Since(start))

	subject := auditSubject{userID: req.UserID, purpose: req.Purpose}
	if err != nil {
		e.metricInc(MetricOTPUnavailable)
		e.emitAudit(ctx, auditEventOTPStoreUnavailable, false, subject, auditErrUnavailable, nil)
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	res := VerifyResult{Outcome: outcome}
	if rec != nil {
		res.RecordID = rec.ID
		res.AttemptsRemaining = rec.AttemptsRemaining()
		subject.recordID = rec.ID
	}

	e.metricInc(outcomeMetric(outcome))
	if outcome != OutcomeVerified {
		e.emitAudit(ctx, auditEventOTPVerifyFailed, false, subject, outcomeAuditCode(outcome), func() map[string]string {
			return map[string]string{"attempts_remaining": strconv.Itoa(res.AttemptsRemaining)}
		})
		return res, nil
	}
	e.emitAudit(ctx, auditEventOTPVerified, true, subject, "", nil)

	if e.grants != nil {
		token, err := e.grants.Issue(req.UserID, string(req.Purpose), res.RecordID)
		if err != nil {
			e.emitAudit(ctx, auditEventGrantIssueFailed, false, subject, auditErrGrant, nil)
			return res, fmt.Errorf("%w: %v", ErrGrantUnavailable, err)
		}
		res.Grant = token
		e.metricInc(MetricGrantIssued)
		e.emitAudit(ctx, auditEventGrantIssued, true, subject, "", nil)
	}
	return res, nil
}

// OTPStatus returns the current record for (userID, purpose), or
// [ErrOTPNotFound]. The code hash is cleared from the returned copy.
func (e *Engine) OTPStatus(ctx context.Context, userID string, purpose Purpose) (*OTPRecord, error) {
	if e == nil || e.records == nil {
		return nil, ErrEngineNotReady
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || !purpose.Valid() {
		return nil, ErrOTPInvalidRequest
	}

	rec, err := e.records.Current(ctx, userID, purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if rec == nil {
		return nil, ErrOTPNotFound
	}
	out := *rec
	out.CodeHash = [32]byte{}
	if out.State == OTPPending && e.now().After(out.ExpiresAt) {
		out.State = OTPExpired
	}
	return &out, nil
}

func outcomeMetric(o OTPOutcome) MetricID {
	switch o {
	case OutcomeVerified:
		return MetricOTPVerified
	case OutcomeInvalidCode:
		return MetricOTPInvalid
	case OutcomeExpired:
		return MetricOTPExpired
	case OutcomeAttemptsExhausted:
		return MetricOTPAttemptsExhausted
	case OutcomeAlreadyVerified:
		return MetricOTPAlreadyVerified
	default:
		return MetricOTPNotFound
	}
}
