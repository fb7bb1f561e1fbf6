package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"supplybot/internal/logx"
)

var ErrExhausted = errors.New("retries exhausted")

// StatusCoder is implemented by errors carrying an HTTP-like status code.
type StatusCoder interface {
	HTTPStatus() int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsTransient reports whether err belongs to a failure class that may
// succeed on a later attempt: timeouts, 5xx/429/408 statuses and
// connection errors. Everything else is definite.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		return code >= 500 || code == 429 || code == 408
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Policy describes how an external call is retried: one initial attempt and
// then one more attempt after each delay.
type Policy struct {
	Delays    []time.Duration
	Retryable func(error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
	Logger    logrus.FieldLogger
}

func DefaultPolicy() Policy {
	return Policy{
		Delays: []time.Duration{3 * time.Second, 5 * time.Second, 8 * time.Second},
	}
}

func (p Policy) Attempts() int {
	return len(p.Delays) + 1
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) logger() logrus.FieldLogger {
	if p.Logger != nil {
		return p.Logger
	}
	return logx.Logger()
}

// Do runs fn under the policy. Definite failures return immediately; after
// the last attempt the error wraps ErrExhausted and the last failure.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts()
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, errors.Join(ctx.Err(), err))
		}
		if !p.retryable(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= attempts {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, err)
		}

		delay := p.Delays[attempt-1]
		p.logger().WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warnf("transient failure, retrying: %v", err)

		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
}
