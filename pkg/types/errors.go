package types

import (
	"errors"
	"strings"
)

// Error classes. Every error surfaced by the engine wraps exactly one of
// these so the request layer can map it to a status without string matching.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("storage unavailable")
)

// Validation errors.
var (
	ErrUnknownField     = classError{ErrValidation, "unknown field"}
	ErrTypeMismatch     = classError{ErrValidation, "type mismatch"}
	ErrRequiredOmitted  = classError{ErrValidation, "required field omitted"}
	ErrFieldNotAllowed  = classError{ErrValidation, "field not allowed"}
	ErrDuplicateSlug    = classError{ErrValidation, "duplicate field slug"}
	ErrInvalidSlug      = classError{ErrValidation, "invalid slug"}
	ErrInvalidFieldType = classError{ErrValidation, "invalid field type"}
	ErrInvalidStructure = classError{ErrValidation, "invalid structure"}
	ErrInvalidQuery     = classError{ErrValidation, "invalid query"}
	ErrNotSelective     = classError{ErrValidation, "query not selective enough"}
	ErrInvalidDocument  = classError{ErrValidation, "invalid document"}
)

// Conflict errors.
var (
	ErrMutationNotAllowed = classError{ErrConflict, "structure mutation not allowed"}
	ErrUniqueViolation    = classError{ErrConflict, "unique constraint violated"}
	ErrStaleStructure     = classError{ErrConflict, "structure changed concurrently"}
	ErrDuplicateID        = classError{ErrConflict, "duplicate document id"}
)

// Not found errors.
var (
	ErrSpaceNotFound  = classError{ErrNotFound, "record space not found"}
	ErrRecordNotFound = classError{ErrNotFound, "record not found"}
	ErrFieldNotFound  = classError{ErrNotFound, "field not found"}
)

// Lifecycle errors.
var (
	ErrStoreClosed     = errors.New("store is closed")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// classError is a sentinel that also matches its class under errors.Is.
type classError struct {
	class error
	msg   string
}

func (e classError) Error() string { return e.msg }

func (e classError) Is(target error) bool { return target == e.class }

// Errors accumulates independent failures so a caller receives every
// correction in a single response.
type Errors []error

// Append adds err to the list, ignoring nil.
func (es *Errors) Append(err error) {
	if err != nil {
		*es = append(*es, err)
	}
}

// Err returns nil for an empty list, the single error for a one-element
// list, and the list itself otherwise.
func (es Errors) Err() error {
	switch len(es) {
	case 0:
		return nil
	case 1:
		return es[0]
	default:
		return es
	}
}

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, err := range es {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As.
func (es Errors) Unwrap() []error { return es }

// Messages flattens err into the human-readable strings returned to clients.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var list Errors
	if errors.As(err, &list) {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			msgs = append(msgs, Messages(e)...)
		}
		return msgs
	}
	return []string{err.Error()}
}
