package api

import (
	"errors"
	"net/http"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
)

// ApplicationError is the body of every error response.
type ApplicationError struct {
	Message          string `json:"message"`
	InnerMessage     string `json:"inner_message"`
	ExceptionType    string `json:"exception_type"`
	BacktraceMessage string `json:"backtrace_message,omitempty"`
}

var errorResponses = map[apperror.Kind]struct {
	status  int
	message string
}{
	apperror.NotFound:           {http.StatusNotFound, "The requested resource could not be found"},
	apperror.CommunicationError: {http.StatusBadGateway, "An upstream server could not be reached or answered unexpectedly"},
	apperror.InvalidState:       {http.StatusInternalServerError, "The application is in an invalid state"},
	apperror.MultipleResults:    {http.StatusConflict, "More than one result was found where one was expected"},
	apperror.MissingAttributes:  {http.StatusUnprocessableEntity, "The field lacks the attributes required for this operation"},
	apperror.ValidationError:    {http.StatusBadRequest, "The request could not be validated"},
	apperror.MappingError:       {http.StatusBadRequest, "The code could not be mapped"},
}

// toApplicationError picks the status and body for err.
func toApplicationError(err error) (int, ApplicationError) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ApplicationError{
			Message:       "An unexpected error occurred",
			InnerMessage:  err.Error(),
			ExceptionType: apperror.Unknown.String(),
		}
	}

	response, ok := errorResponses[appErr.Kind]
	if !ok {
		response.status = http.StatusInternalServerError
		response.message = "An unexpected error occurred"
	}

	body := ApplicationError{
		Message:       response.message,
		InnerMessage:  appErr.Message,
		ExceptionType: appErr.Kind.String(),
	}
	if appErr.Cause != nil {
		body.BacktraceMessage = appErr.Cause.Error()
	}
	return response.status, body
}

func (rt *Router) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toApplicationError(err)
	event := rt.log.Warn()
	if status >= http.StatusInternalServerError {
		event = rt.log.Error()
	}
	event.Err(err).
		Str("request_id", requestIDFrom(r.Context())).
		Int("status", status).
		Str("exception_type", body.ExceptionType).
		Msg("Request failed")
	respondWithJSON(w, status, body)
}
