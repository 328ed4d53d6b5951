package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for error classification across stages and API surfaces.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap tags err with marker and a "stage: operation: message" prefix so
// callers can classify with errors.Is while operators still see where the
// failure happened. A nil marker defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	detail := joinDetail(stage, operation, message)
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// Retryable reports whether re-running the job could succeed without operator
// intervention. Validation, configuration, and not-found failures are
// deterministic and excluded.
func Retryable(err error) bool {
	for _, permanent := range []error{ErrValidation, ErrConfiguration, ErrNotFound} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

func joinDetail(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return "service failure"
	}
	return strings.Join(kept, ": ")
}
