package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

// httpStatus maps a failure to its HTTP status. Contention and state
// conflicts are business outcomes and travel as 200 with success=false.
func httpStatus(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeInvalidArgument, domain.CodeInvalidStrategy:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeDuplicateAwb, domain.CodeDuplicateRequest:
		return http.StatusConflict
	case domain.CodeContention, domain.CodeInvalidState:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch domain.CodeOf(err) {
	case domain.CodeInvalidArgument, domain.CodeInvalidStrategy:
		return codes.InvalidArgument
	case domain.CodeNotFound:
		return codes.NotFound
	case domain.CodeDuplicateAwb, domain.CodeDuplicateRequest:
		return codes.AlreadyExists
	case domain.CodeInvalidState:
		return codes.FailedPrecondition
	case domain.CodeContention:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func grpcError(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// businessOutcome reports failures that single-item allocation answers with
// a success=false body rather than an error.
func businessOutcome(err error) bool {
	code := domain.CodeOf(err)
	return code == domain.CodeContention || code == domain.CodeInvalidState
}
