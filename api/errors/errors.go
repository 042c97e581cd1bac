package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	mperrors "github.com/customeros/mailpulse/internal/errors"
)

// MultiErrors collects validation problems per request field.
type MultiErrors struct {
	Errors map[string][]ErrorInfo
}

type ErrorInfo struct {
	Message  string
	RawError error
}

func NewMultiErrors() *MultiErrors {
	return &MultiErrors{
		Errors: make(map[string][]ErrorInfo),
	}
}

func (e *MultiErrors) Add(key, message string, err error) {
	e.Errors[key] = append(e.Errors[key], ErrorInfo{
		Message:  message,
		RawError: err,
	})
}

func (e *MultiErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *MultiErrors) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var parts []string
	for _, field := range fields {
		for _, info := range e.Errors[field] {
			parts = append(parts, fmt.Sprintf("%s: %s", field, info.Message))
		}
	}
	return strings.Join(parts, " | ")
}

// StatusCode maps domain errors to HTTP status codes.
func StatusCode(err error) int {
	var multi *MultiErrors
	switch {
	case stderrors.As(err, &multi):
		return http.StatusBadRequest
	case stderrors.Is(err, mperrors.ErrAccountNotFound), stderrors.Is(err, mperrors.ErrEmailNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, mperrors.ErrInvalidField), stderrors.Is(err, mperrors.ErrInvalidAccount):
		return http.StatusBadRequest
	case stderrors.Is(err, mperrors.ErrAccountInactive), stderrors.Is(err, mperrors.ErrSupervisorStopped),
		stderrors.Is(err, mperrors.ErrAccountStopping):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error body. Internal errors are not echoed
// to the caller.
func Respond(c *gin.Context, err error) {
	status := StatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
