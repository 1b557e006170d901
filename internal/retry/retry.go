// Package retry runs external calls with bounded attempts and exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/api/googleapi"
)

// Class is the retry classification of an error.
type Class int

const (
	Permanent Class = iota
	Transient
	// TransientReauth is transient but the client should re-authenticate
	// before the next attempt.
	TransientReauth
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case TransientReauth:
		return "transient_reauth"
	default:
		return "permanent"
	}
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy configures Do. The zero value retries 3 times starting at 1s
// with the default classifier.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    func(error) Class
	// OnReauth runs before the next attempt after a TransientReauth error.
	OnReauth func(ctx context.Context) error
	// Sleep waits between attempts; tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *log.Logger
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails permanently, or runs out of attempts.
// The wait after failed attempt n is BaseDelay * 2^(n-1).
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		class := p.Classify(err)
		if class == Permanent {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.BaseDelay << (attempt - 1)
		if p.Logger != nil {
			p.Logger.Warn("Attempt failed, retrying", "attempt", attempt, "max", p.MaxAttempts, "class", class, "delay", delay, "error", err)
		}

		if class == TransientReauth && p.OnReauth != nil {
			if rerr := p.OnReauth(ctx); rerr != nil && p.Logger != nil {
				p.Logger.Warn("Re-authentication before retry failed", "error", rerr)
			}
		}

		if serr := p.Sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Classify == nil {
		p.Classify = Classify
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Classify is the default classifier. It inspects error types only.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}

	// Local address exhaustion shows up on long-lived clients.
	if errors.Is(err, syscall.EADDRNOTAVAIL) {
		return TransientReauth
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return Transient
		}
		return Permanent
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return Transient
		}
		// url.Error wraps whatever the transport returned, which may be an
		// auth failure from the token source.
		return classifyNetwork(urlErr.Err)
	}

	return classifyNetwork(err)
}

func classifyNetwork(err error) Class {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return Permanent
		}
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, context.DeadlineExceeded):
		return Transient
	}
	return Permanent
}
