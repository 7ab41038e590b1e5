package cmd

import (
	"errors"
	"testing"
)

func TestExitError(t *testing.T) {
	inner := &TargetFailureError{Failed: 1, Total: 4, Kinds: []string{"HandshakeFailure"}}
	err := &ExitError{Code: exitTransportFailure, Err: inner}

	if err.Error() != "1 of 4 targets failed (HandshakeFailure)" {
		t.Errorf("Error() = %q", err.Error())
	}
	var got *TargetFailureError
	if !errors.As(err, &got) || got != inner {
		t.Error("ExitError should unwrap to its cause")
	}
	if (&ExitError{Code: 3}).Error() != "exit status 3" {
		t.Errorf("bare ExitError = %q", (&ExitError{Code: 3}).Error())
	}
}

func TestTargetFailureErrorWithoutKinds(t *testing.T) {
	err := &TargetFailureError{Failed: 2, Total: 2}
	if err.Error() != "2 of 2 targets failed" {
		t.Errorf("Error() = %q", err.Error())
	}
}
