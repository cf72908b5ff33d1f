// Errors are separated into two categories - application errors and
// platform errors. Application errors are specific to our business logic
// and use cases, they report immediately to the caller since retrying
// rarely helps (a terminal operation stays terminal, a key conflict stays
// a conflict). Platform errors represent failures at the runtime level,
// such as store unavailability or exhausted CAS retries, and are usually
// transient.
//
// Status codes use the convention: 2xxx success,
// 4xxx application error, 5xxx platform error. The first three digits map
// to the equivalent HTTP status code.
package t_api

import (
	"net/http"
	"strconv"
)

type StatusCode int

func (s StatusCode) String() string {
	return strconv.Itoa(int(s))
}

const (
	// Success (2000-2999)
	StatusOK        StatusCode = 2000 // map to 200 ok
	StatusCreated   StatusCode = 2010 // map to 201 created
	StatusAccepted  StatusCode = 2020 // map to 202 accepted (async execution)
	StatusNoContent StatusCode = 2040 // map to 204 no content

	// Application level errors (4000-4999)
	StatusFieldValidationError       StatusCode = 4000 // map to 400 bad request
	StatusUnauthorized               StatusCode = 4010 // map to 401 unauthorized
	StatusForbidden                  StatusCode = 4030 // map to 403 forbidden
	StatusOperationAlreadyCompleted  StatusCode = 4031 // map to 403 forbidden
	StatusOperationAlreadyFailed     StatusCode = 4032 // map to 403 forbidden
	StatusOperationAlreadyCancelled  StatusCode = 4033 // map to 403 forbidden
	StatusOperationNotPending        StatusCode = 4034 // map to 403 forbidden
	StatusOperationNotFound          StatusCode = 4040 // map to 404 not found
	StatusFunctionNotFound           StatusCode = 4041 // map to 404 not found
	StatusLockNotFound               StatusCode = 4042 // map to 404 not found
	StatusIdempotencyKeyConflict     StatusCode = 4090 // map to 409 conflict
	StatusConcurrentModification     StatusCode = 4091 // map to 409 conflict
	StatusDeadlineExceeded           StatusCode = 4080 // map to 408 request timeout
	StatusFunctionDeprecated         StatusCode = 4100 // map to 410 gone
	StatusLockBusy                   StatusCode = 4230 // map to 423 locked
	StatusOperationStillProcessing   StatusCode = 4231 // map to 423 locked
)

// Platform level errors (5000-5999)
const (
	StatusInternalError  StatusCode = 5000 // map to 500 internal server error
	StatusHandlerError   StatusCode = 5001 // map to 500 internal server error
	StatusStoreError     StatusCode = 5002 // map to 500 internal server error
	StatusShuttingDown   StatusCode = 5030 // map to 503 service unavailable
)

// HTTP maps a status code to its transport-level equivalent.
func (s StatusCode) HTTP() int {
	code := int(s) / 10
	if code < 100 || code > 599 {
		return http.StatusInternalServerError
	}
	return code
}

// Retryable hints whether the caller can expect a different outcome by
// simply retrying the same request.
func (s StatusCode) Retryable() bool {
	switch s {
	case StatusLockBusy, StatusOperationStillProcessing, StatusConcurrentModification, StatusStoreError, StatusShuttingDown:
		return true
	default:
		return false
	}
}
