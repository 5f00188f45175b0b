package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP layer can pick a status code and
// the pipeline can decide whether to re-wrap it.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	CommunicationError
	InvalidState
	MultipleResults
	MissingAttributes
	ValidationError
	MappingError
)

var kindNames = map[Kind]string{
	Unknown:            "Unknown",
	NotFound:           "NotFound",
	CommunicationError: "CommunicationError",
	InvalidState:       "InvalidState",
	MultipleResults:    "MultipleResults",
	MissingAttributes:  "MissingAttributes",
	ValidationError:    "ValidationError",
	MappingError:       "MappingError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by the upstream clients and the form
// field pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewNotFound(message string, cause error) *Error {
	return New(NotFound, message, cause)
}

func NewCommunication(message string, cause error) *Error {
	return New(CommunicationError, message, cause)
}

func NewInvalidState(message string, cause error) *Error {
	return New(InvalidState, message, cause)
}

func NewMultipleResults(message string, cause error) *Error {
	return New(MultipleResults, message, cause)
}

func NewMissingAttributes(message string, cause error) *Error {
	return New(MissingAttributes, message, cause)
}

func NewValidation(message string, cause error) *Error {
	return New(ValidationError, message, cause)
}

func NewMapping(message string, cause error) *Error {
	return New(MappingError, message, cause)
}

// KindOf returns the kind of the outermost *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
