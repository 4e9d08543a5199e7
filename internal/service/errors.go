package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/observability"
)

var (
	// ErrAssignmentNotFound indicates the requested assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrSubmissionNotFound indicates the requested submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrNotificationNotFound indicates the notification does not exist for the user.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrSubmissionClosed is returned when the due date passed and no late window is open.
	ErrSubmissionClosed = errors.New("submission window is closed")
	// ErrDuplicateSubmission indicates an active submission exists and resubmission is disabled.
	ErrDuplicateSubmission = errors.New("an active submission already exists for this assignment")
	// ErrResubmissionNotAllowed indicates the existing submission cannot be replaced in its current state.
	ErrResubmissionNotAllowed = errors.New("resubmission is not allowed for this submission")
	// ErrGradeOutOfRange indicates a grade outside 0..max_marks.
	ErrGradeOutOfRange = errors.New("grade must be between 0 and the assignment max marks")
	// ErrInvalidTransition indicates the submission status does not permit the requested action.
	ErrInvalidTransition = errors.New("submission status does not allow this action")
)

// ValidationError reports bad input or an unresolvable reference.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Fields returns per-field messages for validator failures.
func (e *ValidationError) Fields() map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(e.Err, &validationErrors) {
		if e.Field == "" {
			return nil
		}
		return map[string]string{e.Field: e.Message}
	}

	fields := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return fields
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Message: "invalid payload", Err: err}
}

// DependencyError reports a data store or blob store failure on a write path.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func dependencyError(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}

// SideEffectStatus tags the result of a best-effort side effect.
type SideEffectStatus string

const (
	SideEffectOK       SideEffectStatus = "ok"
	SideEffectDegraded SideEffectStatus = "degraded"
	SideEffectSkipped  SideEffectStatus = "skipped"
)

// SideEffectOutcome is the result of a side effect that must never fail the primary operation.
// It is consumed for logging and metrics only.
type SideEffectOutcome struct {
	Name   string
	Status SideEffectStatus
	Err    error
}

// Degraded reports whether the side effect failed.
func (o SideEffectOutcome) Degraded() bool {
	return o.Status == SideEffectDegraded
}

func okOutcome(name string) SideEffectOutcome {
	return SideEffectOutcome{Name: name, Status: SideEffectOK}
}

func skippedOutcome(name string) SideEffectOutcome {
	return SideEffectOutcome{Name: name, Status: SideEffectSkipped}
}

func degradedOutcome(name string, err error) SideEffectOutcome {
	return SideEffectOutcome{Name: name, Status: SideEffectDegraded, Err: err}
}

func (o SideEffectOutcome) record(logger zerolog.Logger) {
	observability.SideEffectOutcomes().WithLabelValues(o.Name, string(o.Status)).Inc()
	if o.Degraded() {
		logger.Warn().Err(o.Err).Str("side_effect", o.Name).Msg("side effect degraded")
		return
	}
	logger.Debug().Str("side_effect", o.Name).Str("status", string(o.Status)).Msg("side effect finished")
}
