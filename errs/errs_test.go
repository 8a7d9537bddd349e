package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesKindAndFields(t *testing.T) {
	err := New(
		"ledger.cancel_order",
		KindOrderNotCancellable,
		WithMessage("order already filled"),
		WithField("order_id", "ord-1"),
		WithFields(map[string]string{"status": "filled", " ": "ignored"}),
		WithCause(errors.New("terminal status")),
	)

	out := err.Error()
	if !strings.Contains(out, "op=ledger.cancel_order") {
		t.Fatalf("expected op marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=state_conflict") {
		t.Fatalf("expected category code in error string: %s", out)
	}
	if !strings.Contains(out, "kind=order_not_cancellable") {
		t.Fatalf("expected kind in error string: %s", out)
	}
	expected := "fields=order_id=\"ord-1\",status=\"filled\""
	if !strings.Contains(out, expected) {
		t.Fatalf("expected fields %q in error string: %s", expected, out)
	}
	if !strings.Contains(out, "cause=\"terminal status\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestKindDerivesCode(t *testing.T) {
	cases := map[Kind]Code{
		KindMissingLimitPrice:      CodeValidation,
		KindHoldAlreadyClosed:      CodeStateConflict,
		KindDuplicateExternalID:    CodeStateConflict,
		KindInsufficientBalance:    CodeResource,
		KindConcurrentModification: CodeContention,
		KindStorage:                CodeInternal,
		Kind("made_up"):            CodeInternal,
	}
	for kind, want := range cases {
		if got := New("op", kind).Code; got != want {
			t.Fatalf("kind %s: expected code %s, got %s", kind, want, got)
		}
	}
}

func TestErrorsIsMatchesByKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("cancel: %w", New("ledger.cancel_order", KindOrderNotCancellable))
	if !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if errors.Is(err, ErrHoldAlreadyClosed) {
		t.Fatalf("expected mismatch for different kind")
	}
	if KindOf(err) != KindOrderNotCancellable {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("plain errors should classify as internal")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New("op", KindConcurrentModification)) {
		t.Fatalf("expected contention to be retryable")
	}
	if IsRetryable(New("op", KindInsufficientBalance)) {
		t.Fatalf("resource errors must not be retryable")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
