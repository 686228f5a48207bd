package authguard

import "errors"

var (
	// ErrEngineNotReady is returned when a required dependency was not wired.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrInvalidClientID is returned for an empty client identity.
	ErrInvalidClientID = errors.New("invalid client identifier")
	// ErrEndpointNotProtected is returned for an endpoint id missing from the limit table.
	ErrEndpointNotProtected = errors.New("endpoint not protected")
	// ErrRateLimited marks a pipeline rejection by the rate limit filter.
	ErrRateLimited = errors.New("rate limited")
	// ErrRateLimitUnavailable is returned when the counter store is down and fail-open is off.
	ErrRateLimitUnavailable = errors.New("rate limit backend unavailable")

	// ErrOTPInvalidRequest is returned for a missing user, unknown purpose, or missing destination.
	ErrOTPInvalidRequest = errors.New("invalid otp request")
	// ErrOTPNotFound is returned by resend when there is no record to resend.
	ErrOTPNotFound = errors.New("otp not found")
	// ErrOTPUnavailable wraps record store failures.
	ErrOTPUnavailable = errors.New("otp backend unavailable")
	// ErrNotificationFailed wraps a failed or timed out delivery. It is reported
	// in IssueResult.DeliveryErr and never rolls back the issued record.
	ErrNotificationFailed = errors.New("otp notification failed")

	// ErrGrantDisabled is returned by grant operations when grants are not configured.
	ErrGrantDisabled = errors.New("verification grants disabled")
	// ErrGrantInvalid is returned for a grant that fails signature or claim checks.
	ErrGrantInvalid = errors.New("invalid verification grant")
	// ErrGrantUnavailable is returned when a verified record could not be turned into a grant.
	ErrGrantUnavailable = errors.New("verification grant could not be issued")
)
