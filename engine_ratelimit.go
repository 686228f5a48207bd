package authguard

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// CheckRateLimit counts one request from clientID against endpointID's row of
// the limit table.
//
// A throttled request is a value: the decision has Allowed=false, RetryAfter
// set to the window, and the error is nil. When the counter store is
// unreachable the request is admitted if RateLimit.FailOpen is set, otherwise
// an error wrapping [ErrRateLimitUnavailable] is returned.
func (e *Engine) CheckRateLimit(ctx context.Context, clientID, endpointID string) (RateDecision, error) {
	if e == nil || e.limiter == nil {
		return RateDecision{}, ErrEngineNotReady
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return RateDecision{}, ErrInvalidClientID
	}
	limit, ok := e.config.RateLimit.Endpoints[endpointID]
	if !ok {
		return RateDecision{}, ErrEndpointNotProtected
	}

	start := time.Now()
	decision, err := e.limiter.CheckAndIncrement(ctx, clientID, endpointID, limit.Window, limit.MaxRequests)
	e.metricObserve(MetricRateLimitLatency, time.Since(start))

	if err != nil {
		subject := auditSubject{endpoint: endpointID, clientID: clientID}
		if e.config.RateLimit.FailOpen {
			log.Print("authguard: rate limit store unavailable, admitting request")
			e.metricInc(MetricRateLimitFailOpen)
			e.emitAudit(ctx, auditEventRateLimitFailOpen, true, subject, auditErrUnavailable, nil)
			return RateDecision{Allowed: true, Limit: limit.MaxRequests}, nil
		}

		e.metricInc(MetricRateLimitUnavailable)
		e.emitAudit(ctx, auditEventRateLimitUnavailable, false, subject, auditErrUnavailable, nil)
		return RateDecision{}, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}

	if !decision.Allowed {
		e.emitRateLimit(ctx, clientID, endpointID, decision)
		return decision, nil
	}

	e.metricInc(MetricRateLimitAllowed)
	return decision, nil
}

// ResetRateLimit clears the counter for (clientID, endpointID).
func (e *Engine) ResetRateLimit(ctx context.Context, clientID, endpointID string) error {
	if e == nil || e.limiter == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(clientID) == "" {
		return ErrInvalidClientID
	}
	if _, ok := e.config.RateLimit.Endpoints[endpointID]; !ok {
		return ErrEndpointNotProtected
	}
	if err := e.limiter.Reset(ctx, clientID, endpointID); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}
	return nil
}

// EndpointForPath maps an HTTP path to its endpoint id.
func (e *Engine) EndpointForPath(path string) (string, bool) {
	if e == nil || e.endpointByPath == nil {
		return "", false
	}
	id, ok := e.endpointByPath[path]
	return id, ok
}

// EndpointLimit returns the configured row for endpointID.
func (e *Engine) EndpointLimit(endpointID string) (EndpointLimit, bool) {
	if e == nil {
		return EndpointLimit{}, false
	}
	limit, ok := e.config.RateLimit.Endpoints[endpointID]
	return limit, ok
}
