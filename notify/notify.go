package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/storefront/authguard"
)

// ErrNoRoute is returned by [Router] for a channel with no sender.
var ErrNoRoute = errors.New("notify: no sender for channel")

// Router dispatches notifications to a sender per channel.
type Router struct {
	routes map[string]authguard.Notifier
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]authguard.Notifier, 2)}
}

// Handle registers n for channel. A nil n removes the route.
func (r *Router) Handle(channel string, n authguard.Notifier) *Router {
	if n == nil {
		delete(r.routes, channel)
		return r
	}
	r.routes[channel] = n
	return r
}

// Send forwards msg to the sender registered for msg.Channel.
func (r *Router) Send(ctx context.Context, msg authguard.Notification) error {
	n, ok := r.routes[msg.Channel]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoRoute, msg.Channel)
	}
	return n.Send(ctx, msg)
}

// Recorder keeps every notification in memory. It backs tests and the
// development server, where no real delivery channel is configured.
type Recorder struct {
	mu   sync.Mutex
	sent []authguard.Notification
	fail error
}

// Send records msg, then returns the injected failure if any.
func (r *Recorder) Send(ctx context.Context, msg authguard.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.fail
}

// FailWith makes subsequent sends return err. Nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Sent returns a copy of all recorded notifications.
func (r *Recorder) Sent() []authguard.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authguard.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent notification sent to destination.
func (r *Recorder) Last(destination string) (authguard.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Destination == destination {
			return r.sent[i], true
		}
	}
	return authguard.Notification{}, false
}

// run executes a blocking client call and abandons it when ctx ends. Neither
// the SMTP nor the Twilio client accepts a context.
func run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func subjectFor(p authguard.Purpose) string {
	switch p {
	case authguard.PurposePasswordReset:
		return "Your password reset code"
	case authguard.PurposeLoginVerification:
		return "Your sign-in code"
	default:
		return "Your verification code"
	}
}

func bodyFor(msg authguard.Notification, now time.Time) string {
	minutes := int(msg.ExpiresAt.Sub(now).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%s: %s. It expires in %d minutes.", subjectFor(msg.Purpose), msg.Code, minutes)
}
