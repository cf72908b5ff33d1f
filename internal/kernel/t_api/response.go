package t_api

import (
	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

// Calls

type CallResponse struct {
	Status  StatusCode        `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    []byte            `json:"data,omitempty"`

	// OperationId is set when execution was accepted for asynchronous
	// processing, the caller polls operation.status for the result.
	OperationId string `json:"operationId,omitempty"`
}

// Operations

type StatusOperationResponse struct {
	Status    StatusCode           `json:"status"`
	Operation *operation.Operation `json:"operation,omitempty"`
}

type ListOperationsResponse struct {
	Status     StatusCode                     `json:"status"`
	Cursor     *Cursor[ListOperationsRequest] `json:"cursor,omitempty"`
	Operations []*operation.Operation         `json:"operations,omitempty"`
}

type CancelOperationResponse struct {
	Status    StatusCode           `json:"status"`
	Operation *operation.Operation `json:"operation,omitempty"`
}

// Locks

type StatusLockResponse struct {
	Status StatusCode   `json:"status"`
	Lock   *lock.Status `json:"lock,omitempty"`
}

type ReleaseLockResponse struct {
	Status   StatusCode `json:"status"`
	Released bool       `json:"released"`
}

type ForceReleaseLockResponse struct {
	Status   StatusCode `json:"status"`
	Released bool       `json:"released"`
}
