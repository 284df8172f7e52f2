package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConstructors_Classification(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		sentinel  error
		permanent bool
		transient bool
	}{
		{"invalid envelope", InvalidEnvelope("lambda_arn", "lambda_arn is required"), ErrInvalidEnvelope, true, false},
		{"provisioning", Provisioning("jetstream.CreateStream", cause), ErrProvisioning, false, false},
		{"invocation", Invocation("lambda.Invoke", cause), ErrInvocation, false, true},
		{"inspection", Inspection("logs.FilterLogEvents", cause), ErrInspection, false, true},
		{"publish", Publish("jetstream.Publish", cause), ErrPublish, false, true},
		{"store", Store("sqlite.Get", cause), ErrStore, false, false},
		{"not found", NotFound("key", "aws_region"), ErrNotFound, false, false},
		{"config", Config("NATS_URL", "must not be empty"), ErrConfig, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestError_MatchesCause(t *testing.T) {
	t.Parallel()
	err := Invocation("lambda.Invoke", context.DeadlineExceeded)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be matched by errors.Is")
	}
	if err.Error() != "lambda.Invoke: context deadline exceeded" {
		t.Errorf("unexpected message %q", err.Error())
	}

	var appErr *Error
	if !errors.As(fmt.Errorf("dispatch: %w", err), &appErr) {
		t.Fatal("expected errors.As to find *Error through wrapping")
	}
	if appErr.Op != "lambda.Invoke" {
		t.Errorf("Op = %q, want lambda.Invoke", appErr.Op)
	}
}

func TestInvalidEnvelope_Field(t *testing.T) {
	t.Parallel()
	var appErr *Error
	if !errors.As(InvalidEnvelope("retry_index", "retry_index must be a non-negative integer"), &appErr) {
		t.Fatal("expected *Error")
	}
	if appErr.Field != "retry_index" {
		t.Errorf("Field = %q", appErr.Field)
	}
	if IsPermanent(nil) || IsTransient(nil) {
		t.Error("nil must be neither permanent nor transient")
	}
}
