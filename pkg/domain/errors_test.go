package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"not found", ErrNotFound{Entity: EntityInventoryItem, ID: "i1"}, ClassNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", ErrNotFound{Entity: EntityEquipment, ID: "e"}), ClassNotFound},
		{"stock", &InsufficientStockError{ItemID: "i", Requested: 5, Shortfall: 2}, ClassConcurrencyConflict},
		{"validation", &ValidationError{Field: "name", Reason: "missing"}, ClassValidation},
		{"closed", ErrExecutionClosed, ClassValidation},
		{"plain", errors.New("connection reset"), ClassTransientIO},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransientWrapsOnlyUnclassified(t *testing.T) {
	base := errors.New("disk full")
	err := Transient("update execution", base)
	var te *TransientError
	if !errors.As(err, &te) || !errors.Is(err, base) {
		t.Fatalf("expected transient wrapper around base, got %v", err)
	}
	if again := Transient("retry", err); again != err {
		t.Fatalf("expected already-transient error to pass through")
	}
	nf := ErrNotFound{Entity: EntityExecution, ID: "x"}
	if got := Transient("get", nf); Classify(got) != ClassNotFound {
		t.Fatalf("not found must keep its class, got %v", got)
	}
	if Transient("noop", nil) != nil {
		t.Fatalf("nil stays nil")
	}
}

func TestErrorMessages(t *testing.T) {
	if msg := (ErrNotFound{Entity: EntityProtocol, ID: "p1"}).Error(); msg != "protocol p1 not found" {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := (&ValidationError{Reason: "bad"}).Error(); msg != "validation: bad" {
		t.Fatalf("unexpected message %q", msg)
	}
}
