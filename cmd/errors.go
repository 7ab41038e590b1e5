package cmd

import (
	"fmt"
	"strings"
)

// exitTransportFailure is returned when at least one target could not be
// reached or did not complete a handshake.
const exitTransportFailure = 2

// ExitError makes Execute exit with Code instead of 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// TargetFailureError reports how many targets failed at the transport layer.
type TargetFailureError struct {
	Failed int
	Total  int
	Kinds  []string
}

func (e *TargetFailureError) Error() string {
	msg := fmt.Sprintf("%d of %d targets failed", e.Failed, e.Total)
	if len(e.Kinds) > 0 {
		msg += " (" + strings.Join(e.Kinds, ", ") + ")"
	}
	return msg
}

// UnsupportedFormatError signals an unknown --format value.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported output format %q (want %s)", e.Format, strings.Join(outputFormats, ", "))
}
