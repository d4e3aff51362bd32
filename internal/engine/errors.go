package engine

import (
	"errors"
	"fmt"

	"github.com/sells-group/taxonomy-cli/internal/graph"
	"github.com/sells-group/taxonomy-cli/internal/promotion"
	"github.com/sells-group/taxonomy-cli/internal/provenance"
	"github.com/sells-group/taxonomy-cli/internal/resilience"
	"github.com/sells-group/taxonomy-cli/internal/taxonomy"
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflict is returned when an edit kept losing write races
// until the retry budget ran out. The edit was not applied.
type ConcurrencyConflict struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyConflict) Unwrap() error {
	return e.Err
}

// InconsistentPromotionState is a reconciliation finding: a usage row and
// the vocabulary disagree about a promotion.
type InconsistentPromotionState = promotion.InconsistentState

// GraphBuildFailure is returned when the graph could not be built and no
// earlier graph was available.
type GraphBuildFailure = graph.BuildError

// IsValidation reports whether err rejects the request's input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is an exhausted concurrency conflict.
func IsConflict(err error) bool {
	var cc *ConcurrencyConflict
	return errors.As(err, &cc)
}

// asValidation maps input errors from lower layers onto ValidationError.
func asValidation(field string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, taxonomy.ErrEmptyValue):
		return invalid(field, "value is empty")
	case errors.Is(err, taxonomy.ErrUnknownCategory):
		return invalid(field, "unknown category")
	case errors.Is(err, provenance.ErrMissingEntity),
		errors.Is(err, provenance.ErrMissingField),
		errors.Is(err, provenance.ErrMissingActor),
		errors.Is(err, provenance.ErrInvalidPage):
		return &ValidationError{Field: field, Msg: err.Error()}
	}
	return err
}

// conflictError wraps an exhausted retry as a transient ConcurrencyConflict.
func conflictError(err error) error {
	var ex *resilience.ExhaustedError
	if errors.As(err, &ex) {
		return resilience.NewTransientError(&ConcurrencyConflict{Attempts: ex.Attempts, Err: ex.Err})
	}
	return err
}
