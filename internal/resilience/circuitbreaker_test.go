package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pdsaudio/voicebridge/internal/resilience"
	speechmock "github.com/pdsaudio/voicebridge/pkg/provider/speech/mock"
)

var errBackend = errors.New("backend down")

func failN(n int) func() error {
	count := 0
	return func() error {
		count++
		if count <= n {
			return errBackend
		}
		return nil
	}
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.Config{MaxFailures: 3})

	fn := failN(100)
	for range 3 {
		if err := cb.Execute(fn); !errors.Is(err, errBackend) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := cb.Execute(fn); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.Config{MaxFailures: 3})

	fail := func() error { return errBackend }
	ok := func() error { return nil }

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(ok)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)

	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.Config{
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = cb.Execute(func() error { return errBackend })
	time.Sleep(5 * time.Millisecond)

	ok := func() error { return nil }
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.Config{
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
	})

	_ = cb.Execute(func() error { return errBackend })
	time.Sleep(5 * time.Millisecond)

	if err := cb.Execute(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe should run, got %v", err)
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
}

func TestSpeechBreakerShortCircuits(t *testing.T) {
	t.Parallel()
	inner := &speechmock.Service{TranscribeError: errBackend}
	svc := resilience.NewSpeechBreaker(inner, resilience.Config{MaxFailures: 2})

	ctx := context.Background()
	_, _ = svc.Transcribe(ctx, []byte("a"))
	_, _ = svc.Transcribe(ctx, []byte("b"))

	if _, err := svc.Transcribe(ctx, []byte("c")); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.CallCountTranscribe != 2 {
		t.Errorf("backend called %d times, want 2", inner.CallCountTranscribe)
	}

	// One backend sharing one breaker: synthesis is short-circuited too.
	if _, err := svc.Synthesize(ctx, "hello", "alloy"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen on synthesize, got %v", err)
	}
}

func TestSpeechBreakerPassesThrough(t *testing.T) {
	t.Parallel()
	inner := &speechmock.Service{TranscribeResult: "hello", ChatResult: "hi"}
	svc := resilience.NewSpeechBreaker(inner, resilience.Config{})

	ctx := context.Background()
	text, err := svc.Transcribe(ctx, []byte("a"))
	if err != nil || text != "hello" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
	reply, err := svc.Chat(ctx, "hey")
	if err != nil || reply != "hi" {
		t.Fatalf("Chat = %q, %v", reply, err)
	}
	if got := svc.State(); got != resilience.StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}
