package session

import (
	"fmt"
	"log/slog"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

// Invariants reports broken engine invariants. In strict mode a violation
// panics; otherwise it is logged, counted and the offending step is skipped.
type Invariants struct {
	Strict bool
	Log    *slog.Logger
}

// Violation reports a broken invariant and returns the wrapped error.
func (i *Invariants) Violation(msg string, attrs ...any) error {
	err := fmt.Errorf("%w: %s", models.ErrInvariant, msg)
	if i != nil && i.Strict {
		panic(err)
	}
	log := slog.Default()
	if i != nil && i.Log != nil {
		log = i.Log
	}
	log.Error("invariant violated", append([]any{slog.String("invariant", msg)}, attrs...)...)
	observability.InvariantViolations.Inc()
	return err
}

// Check reports a violation when ok is false and returns ok.
func (i *Invariants) Check(ok bool, msg string, attrs ...any) bool {
	if !ok {
		i.Violation(msg, attrs...)
	}
	return ok
}
