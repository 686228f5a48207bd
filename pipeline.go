package authguard

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Request is the transport-neutral view of an inbound call that filters see.
type Request struct {
	ClientID   string
	EndpointID string
	Path       string
	Method     string
}

// Verdict is a filter result. Continue lets the pipeline proceed; otherwise
// Err explains the rejection and Filter names the filter that produced it.
type Verdict struct {
	Continue   bool
	Filter     string
	Err        error
	RetryAfter time.Duration
}

// Pass is the verdict that lets a request through.
func Pass() Verdict {
	return Verdict{Continue: true}
}

// Reject builds a terminal verdict.
func Reject(filter string, err error, retryAfter time.Duration) Verdict {
	return Verdict{Filter: filter, Err: err, RetryAfter: retryAfter}
}

// Filter is one named step of a [Pipeline]. Apply may fill in fields of req
// for later filters.
type Filter interface {
	Name() string
	Apply(ctx context.Context, req *Request) Verdict
}

type funcFilter struct {
	name string
	fn   func(context.Context, *Request) Verdict
}

func (f funcFilter) Name() string { return f.name }

func (f funcFilter) Apply(ctx context.Context, req *Request) Verdict { return f.fn(ctx, req) }

// NewFilter adapts a function to [Filter].
func NewFilter(name string, fn func(context.Context, *Request) Verdict) Filter {
	return funcFilter{name: name, fn: fn}
}

// Pipeline runs filters in order and stops at the first rejection.
type Pipeline struct {
	filters []Filter
}

// NewPipeline returns a pipeline over filters. Nil filters are skipped.
func NewPipeline(filters ...Filter) *Pipeline {
	p := &Pipeline{filters: make([]Filter, 0, len(filters))}
	for _, f := range filters {
		if f != nil {
			p.filters = append(p.filters, f)
		}
	}
	return p
}

// Names lists the filters in execution order.
func (p *Pipeline) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.filters))
	for i, f := range p.filters {
		names[i] = f.Name()
	}
	return names
}

// Run applies each filter to req in order.
func (p *Pipeline) Run(ctx context.Context, req *Request) Verdict {
	if p == nil {
		return Pass()
	}
	for _, f := range p.filters {
		v := f.Apply(ctx, req)
		if !v.Continue {
			if v.Filter == "" {
				v.Filter = f.Name()
			}
			if v.Err == nil {
				v.Err = errors.New("request rejected")
			}
			return v
		}
	}
	return Pass()
}

// ClientIDFilter rejects requests without a usable client identity.
func ClientIDFilter() Filter {
	return NewFilter("client_id", func(_ context.Context, req *Request) Verdict {
		req.ClientID = strings.TrimSpace(req.ClientID)
		if req.ClientID == "" {
			return Reject("client_id", ErrInvalidClientID, 0)
		}
		return Pass()
	})
}

// RateLimitFilter counts the request against its endpoint. Requests whose
// path or endpoint id is not in the limit table pass untouched.
func (e *Engine) RateLimitFilter() Filter {
	const name = "rate_limit"
	return NewFilter(name, func(ctx context.Context, req *Request) Verdict {
		if req.EndpointID == "" {
			id, ok := e.EndpointForPath(req.Path)
			if !ok {
				return Pass()
			}
			req.EndpointID = id
		}
		if _, ok := e.EndpointLimit(req.EndpointID); !ok {
			return Pass()
		}

		decision, err := e.CheckRateLimit(ctx, req.ClientID, req.EndpointID)
		if err != nil {
			return Reject(name, err, 0)
		}
		if !decision.Allowed {
			return Reject(name, ErrRateLimited, decision.RetryAfter)
		}
		return Pass()
	})
}
