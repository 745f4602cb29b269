package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type kindedErr struct{}

func (kindedErr) Error() string { return "bad document" }
func (kindedErr) FaultKind() Kind { return KindInput }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindUnknown},
		{"wrapped synthesis", fmt.Errorf("chunk 3: %w", Synthesis("generate", true, errors.New("503"))), KindSynthesis},
		{"component kinded", fmt.Errorf("extract: %w", kindedErr{}), KindInput},
		{"cancelled", fmt.Errorf("wait: %w", context.Canceled), KindCancelled},
		{"capacity", Capacity("submit", errors.New("full")), KindCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Synthesis("generate", true, errors.New("429"))) {
		t.Error("transient synthesis error should be transient")
	}
	if IsTransient(Synthesis("generate", false, errors.New("400"))) {
		t.Error("permanent synthesis error should not be transient")
	}
	if !IsTransient(fmt.Errorf("call: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("unclassified error should not be transient")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Assembly("assemble chapter 2", errors.New("missing chunk audio"))
	if err.Error() != "assemble chapter 2: missing chunk audio" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
