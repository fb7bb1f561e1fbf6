package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"supplybot/internal/logx"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func recordingPolicy(delays ...time.Duration) (Policy, *[]time.Duration) {
	var slept []time.Duration
	p := Policy{
		Delays: delays,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		Logger: logx.Discard(),
	}
	return p, &slept
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", statusErr(502), true},
		{"429", statusErr(429), true},
		{"4xx", statusErr(400), false},
		{"403 wrapped", fmt.Errorf("create: %w", statusErr(403)), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"permanent 5xx", Permanent(statusErr(500)), false},
		{"plain", errors.New("bad json"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Fatalf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDoRetriesTransientWithScheduledDelays(t *testing.T) {
	p, slept := recordingPolicy(3*time.Second, 5*time.Second, 8*time.Second)
	calls := 0
	err := p.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		if calls < 3 {
			return statusErr(503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 || (*slept)[0] != 3*time.Second || (*slept)[1] != 5*time.Second {
		t.Fatalf("unexpected sleeps: %v", *slept)
	}
}

func TestDoStopsOnDefiniteFailure(t *testing.T) {
	p, slept := recordingPolicy(time.Second, time.Second)
	calls := 0
	err := p.Do(context.Background(), "create", func(context.Context) error {
		calls++
		return statusErr(422)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", *slept)
	}
	var sc StatusCoder
	if !errors.As(err, &sc) || sc.HTTPStatus() != 422 {
		t.Fatalf("expected status 422 to surface verbatim, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatal("definite failure must not be reported as exhausted")
	}
}

func TestDoExhausts(t *testing.T) {
	p, slept := recordingPolicy(time.Millisecond, 2*time.Millisecond, 3*time.Millisecond)
	calls := 0
	_, err := DoValue(context.Background(), p, "list", func(context.Context) (int, error) {
		calls++
		return 0, statusErr(500)
	})
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
	if len(*slept) != 3 {
		t.Fatalf("sleeps = %d, want 3", len(*slept))
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var sc StatusCoder
	if !errors.As(err, &sc) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
}

func TestDoValueReturnsValue(t *testing.T) {
	p, _ := recordingPolicy(time.Millisecond)
	v, err := DoValue(context.Background(), p, "get", func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("DoValue = %q, %v", v, err)
	}
}

func TestDoHonorsCancellationDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Delays: []time.Duration{time.Hour}, Logger: logx.Discard()}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "slow", func(context.Context) error {
			calls++
			return statusErr(503)
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
