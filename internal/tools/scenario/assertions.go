package scenario

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AssertionMode decides whether failed expectations stop a scenario.
type AssertionMode int

const (
	// AssertionStrict fails the scenario on the first unmet expectation.
	AssertionStrict AssertionMode = iota
	// AssertionLogOnly logs unmet expectations and keeps going.
	AssertionLogOnly
)

// Assertions reports expectation failures according to Mode.
type Assertions struct {
	Mode   AssertionMode
	Logger zerolog.Logger
	// Failures counts expectations that were logged instead of returned.
	Failures int
}

// Failf always returns an error. Use it for broken scenarios rather than
// unmet expectations.
func (a *Assertions) Failf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Assertf returns an error in strict mode and logs it otherwise.
func (a *Assertions) Assertf(format string, args ...any) error {
	if a.Mode == AssertionStrict {
		return fmt.Errorf(format, args...)
	}
	a.Failures++
	a.Logger.Warn().Msgf("expectation failed: "+format, args...)
	return nil
}
