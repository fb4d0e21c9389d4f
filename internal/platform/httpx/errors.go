// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validationErr *shared.ValidationError
		transitionErr *shared.InvalidTransitionError
		capacityErr   *shared.CapacityExceededError
		conflictErr   *shared.ConcurrencyConflictError
	)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &validationErr):
		Problem(w, http.StatusBadRequest, "Validation Failed", validationErr.Detail)
	case errors.As(err, &transitionErr):
		Problem(w, http.StatusConflict, "Invalid Transition", transitionErr.Error())
	case errors.As(err, &capacityErr):
		capacityProblem(w, http.StatusUnprocessableEntity, "Capacity Exceeded", capacityErr)
	case errors.As(err, &conflictErr):
		if conflictErr.Cause != nil {
			capacityProblem(w, http.StatusConflict, "Concurrency Conflict", conflictErr.Cause)
			return
		}
		Problem(w, http.StatusConflict, "Concurrency Conflict", conflictErr.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func capacityProblem(w http.ResponseWriter, status int, title string, cause *shared.CapacityExceededError) {
	detail := CapacityProblemDetail{
		ProblemDetail: ProblemDetail{
			Title:  title,
			Status: status,
			Detail: cause.Error(),
		},
		Requested: cause.Requested,
		Committed: cause.Committed,
		Remaining: cause.Remaining,
		Ceiling:   cause.Ceiling,
	}
	if cause.Date != nil {
		detail.Date = cause.Date.Format("2006-01-02")
	}
	JSON(w, status, detail)
}

// CapacityProblemDetail extends the problem body with the exact figures a
// caller needs to adjust quantities and resubmit.
type CapacityProblemDetail struct {
	ProblemDetail
	Date      string `json:"date,omitempty"`
	Requested int64  `json:"requested"`
	Committed int64  `json:"committed"`
	Remaining int64  `json:"remaining"`
	Ceiling   int64  `json:"ceiling"`
}
