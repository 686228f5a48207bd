package authguard

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/storefront/authguard/internal/audit"
	"github.com/storefront/authguard/internal/otp"
	"github.com/storefront/authguard/internal/rate"
)

// Purpose scopes a passcode to one flow.
type Purpose = otp.Purpose

const (
	PurposeEmailVerification = otp.PurposeEmailVerification
	PurposeSMSVerification   = otp.PurposeSMSVerification
	PurposePasswordReset     = otp.PurposePasswordReset
	PurposeLoginVerification = otp.PurposeLoginVerification
)

// Delivery channels selected from the purpose.
const (
	ChannelEmail = otp.ChannelEmail
	ChannelSMS   = otp.ChannelSMS
)

// OTPState is the lifecycle state of a stored record.
type OTPState = otp.State

const (
	OTPPending   = otp.StatePending
	OTPVerified  = otp.StateVerified
	OTPExpired   = otp.StateExpired
	OTPExhausted = otp.StateExhausted
)

// OTPOutcome is the result of a verification attempt. Outcomes are values,
// not errors; String returns a stable code for API responses.
type OTPOutcome = otp.Outcome

const (
	OutcomeNotFound          = otp.OutcomeNotFound
	OutcomeVerified          = otp.OutcomeVerified
	OutcomeInvalidCode       = otp.OutcomeInvalidCode
	OutcomeExpired           = otp.OutcomeExpired
	OutcomeAttemptsExhausted = otp.OutcomeAttemptsExhausted
	OutcomeAlreadyVerified   = otp.OutcomeAlreadyVerified
)

// OTPRecord is the persisted form of an issued passcode. It carries the
// code hash only.
type OTPRecord = otp.Record

// HashCode returns the digest stored for code. Record stores compare
// digests, never plaintext.
func HashCode(userID string, purpose Purpose, code string) [32]byte {
	return otp.HashCode(userID, purpose, code)
}

// RecordStore persists the single current passcode record per (user, purpose).
//
// Replace supersedes any existing record atomically. Attempt must load,
// evaluate and persist in one atomic section, returning OutcomeNotFound with a
// nil error when no record exists. Current returns nil when absent.
type RecordStore interface {
	Replace(ctx context.Context, rec *OTPRecord) error
	Attempt(ctx context.Context, userID string, purpose Purpose, provided [32]byte, now time.Time) (*OTPRecord, OTPOutcome, error)
	Current(ctx context.Context, userID string, purpose Purpose) (*OTPRecord, error)
}

// Notification is the payload handed to a [Notifier] for one issued code.
type Notification struct {
	RecordID    string
	Channel     string
	Destination string
	Purpose     Purpose
	Code        string
	ExpiresAt   time.Time
}

// Notifier delivers a code to its destination. Implementations must honour
// ctx cancellation.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// RateDecision is the outcome of a rate limit check.
type RateDecision = rate.Decision

// IssueRequest asks for a fresh passcode.
type IssueRequest struct {
	UserID      string
	Purpose     Purpose
	Destination string
}

// IssueResult describes a persisted passcode. DeliveryErr is non-nil when
// the record was stored but the notification failed; the caller may resend.
type IssueResult struct {
	RecordID    string
	ExpiresAt   time.Time
	Delivered   bool
	DeliveryErr error
}

// VerifyRequest carries a submitted code.
type VerifyRequest struct {
	UserID  string
	Purpose Purpose
	Code    string
}

// VerifyResult reports a verification attempt. Grant is set only for
// OutcomeVerified when grants are enabled.
type VerifyResult struct {
	Outcome           OTPOutcome
	AttemptsRemaining int
	RecordID          string
	Grant             string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event line.
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] on w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
