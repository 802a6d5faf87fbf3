package repo

import (
	"fmt"

	"github.com/engramhq/engram/internal/apperr"
)

// requireNonEmpty fails ValidationError when s is blank.
func requireNonEmpty(path, s string) error {
	if s == "" {
		return apperr.Validation(path, "must not be empty")
	}
	return nil
}

// requireOneOf fails ValidationError when s is not among allowed.
func requireOneOf(path, s string, allowed ...string) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return apperr.Validation(path, fmt.Sprintf("must be one of %v, got %q", allowed, s))
}

// requireUnitInterval fails ValidationError when f is outside [0,1] (§3
// invariant 5: "confidence is within [0,1] at the storage boundary").
func requireUnitInterval(path string, f float64) error {
	if f < 0 || f > 1 {
		return apperr.Validation(path, fmt.Sprintf("must be within [0,1], got %v", f))
	}
	return nil
}

// requireNonNegative fails ValidationError when n is negative.
func requireNonNegative(path string, n int) error {
	if n < 0 {
		return apperr.Validation(path, fmt.Sprintf("must be >= 0, got %d", n))
	}
	return nil
}

// requirePositive fails ValidationError when n is not positive.
func requirePositive(path string, n int) error {
	if n <= 0 {
		return apperr.Validation(path, fmt.Sprintf("must be > 0, got %d", n))
	}
	return nil
}
