package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/core"
	"github.com/memorylane/companion/internal/store"
)

// APIError is an error with the HTTP status and body it is reported with.
// Client errors carry a message; 401 and 500 carry an error string.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message,omitempty"`
	Err        string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err
}

var (
	errInvalidCredentials = &APIError{StatusCode: http.StatusUnauthorized, Err: "Invalid credentials"}
	errUnauthorized       = &APIError{StatusCode: http.StatusUnauthorized, Err: "Authorization required"}
	errInternal           = &APIError{StatusCode: http.StatusInternalServerError, Err: "internal server error"}
)

func badRequest(format string, args ...any) *APIError {
	return &APIError{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound(message string) *APIError {
	return &APIError{StatusCode: http.StatusNotFound, Message: message}
}

// asAPIError maps a service error to its response. notFoundMessage is used
// for store.ErrNotFound, since only the caller knows what was missing.
func asAPIError(err error, notFoundMessage string) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound(notFoundMessage)
	case errors.Is(err, store.ErrDuplicate):
		return &APIError{StatusCode: http.StatusConflict, Message: "A user with this email already exists."}
	case errors.Is(err, store.ErrConflict):
		return &APIError{StatusCode: http.StatusConflict, Message: "The quiz has already moved on. Please try again."}
	case errors.Is(err, core.ErrSessionClosed):
		return &APIError{StatusCode: http.StatusGone, Message: "Chat session is closed."}
	case errors.Is(err, core.ErrQuizAlreadyStarted):
		return badRequest("Quiz already started!")
	case errors.Is(err, core.ErrNoActiveQuiz):
		return badRequest("No active quiz found.")
	case errors.Is(err, core.ErrNoQuestion):
		return badRequest("No more quizzes available.")
	case errors.Is(err, core.ErrInvalidCredentials):
		return errInvalidCredentials
	case errors.Is(err, core.ErrInvalidImage):
		return badRequest("%s", err.Error())
	default:
		return errInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

// writeError writes the mapped response for err. Server errors are logged
// with the request id and never leak their text to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, notFoundMessage string) {
	apiErr := asAPIError(err, notFoundMessage)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("Request failed")
	}
	writeJSON(w, apiErr.StatusCode, apiErr)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names in validation messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads the request body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("Invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) *APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest("Invalid request body: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.SplitN(fe.Namespace(), ".", 2)
		name := fe.Field()
		if len(field) == 2 {
			name = field[1]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", name))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must be a YYYY-MM-DD date", name))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", name, fe.Tag()))
		}
	}
	return badRequest("%s", strings.Join(msgs, "; "))
}
