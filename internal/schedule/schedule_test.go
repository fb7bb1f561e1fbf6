package schedule

import (
	"context"
	"testing"
	"time"

	"supplybot/internal/logx"
)

func TestParse(t *testing.T) {
	valid := []string{"*/10 * * * *", "0 9 * * 1-5", " 0 9 * * 5 "}
	for _, spec := range valid {
		if _, err := Parse(spec); err != nil {
			t.Fatalf("Parse(%q) failed: %v", spec, err)
		}
	}
	invalid := []string{"* * *", "every minute", "61 * * * *"}
	for _, spec := range invalid {
		if _, err := Parse(spec); err == nil {
			t.Fatalf("Parse(%q) should fail", spec)
		}
	}
}

func TestParseNextIsInFuture(t *testing.T) {
	sched, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	next := sched.Next(now)
	want := time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next = %s, want %s", next, want)
	}
}

func TestStartDisabledAndInvalid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := func(context.Context) { t.Error("job must not run") }

	if err := Start(ctx, "noop", "  ", logx.Discard(), job); err != nil {
		t.Fatalf("empty schedule should disable the job, got %v", err)
	}
	if err := Start(ctx, "bad", "nope", logx.Discard(), job); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
