// Package validation provides a multi-violation error type. Validators
// collect every problem they find and report them together rather than
// failing on the first one.
package validation

import (
	"fmt"
	"strings"
)

// Error carries the full list of violations found by a validator.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// Collector accumulates violations.
type Collector struct {
	violations []string
}

// Addf records a violation.
func (c *Collector) Addf(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

// Err returns an *Error listing every recorded violation, or nil if there
// were none.
func (c *Collector) Err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &Error{Violations: c.violations}
}
