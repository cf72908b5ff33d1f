package service

import (
	"context"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

func (s *Service) StatusOperation(ctx context.Context, header *Header, id string) (*t_api.StatusOperationResponse, *t_api.Error) {
	done := s.observe(t_api.StatusOperation)

	op, err := s.lifecycle.Find(ctx, id, header.Owner)
	if err != nil {
		done(err.Code())
		return nil, err
	}

	done(t_api.StatusOK)
	return &t_api.StatusOperationResponse{
		Status:    t_api.StatusOK,
		Operation: op,
	}, nil
}

type ListOperationsParams struct {
	States   []string `form:"states" json:"states,omitempty"`
	Function string   `form:"function" json:"function,omitempty" validate:"omitempty,max=255"`
	Limit    int      `form:"limit" json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Cursor   string   `form:"cursor" json:"cursor,omitempty"`
}

func (s *Service) ListOperations(ctx context.Context, header *Header, params *ListOperationsParams) (*t_api.ListOperationsResponse, *t_api.Error) {
	done := s.observe(t_api.ListOperations)

	if err := s.validate.Struct(params); err != nil {
		done(t_api.StatusFieldValidationError)
		return nil, t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	var states operation.Status
	for _, raw := range params.States {
		parsed, err := operation.ParseStatus(raw)
		if err != nil {
			done(t_api.StatusFieldValidationError)
			return nil, t_api.NewError(t_api.StatusFieldValidationError, err)
		}
		states |= parsed
	}

	function := params.Function
	limit := params.Limit

	var sortId *int64
	if params.Cursor != "" {
		cursor, err := t_api.NewCursor[t_api.ListOperationsRequest](params.Cursor)
		if err != nil {
			done(t_api.StatusFieldValidationError)
			return nil, t_api.NewError(t_api.StatusFieldValidationError, err)
		}
		sortId = cursor.Next.SortId
		states = cursor.Next.States
		function = cursor.Next.Function
		limit = cursor.Next.Limit
	}

	// resolve the server-side page size up front so the full-page check
	// below matches what the store actually returned
	limit = s.lifecycle.EffectiveLimit(limit)

	operations, err := s.lifecycle.List(ctx, header.Owner, states, function, limit, sortId)
	if err != nil {
		done(err.Code())
		return nil, err
	}

	res := &t_api.ListOperationsResponse{
		Status:     t_api.StatusOK,
		Operations: operations,
	}

	if len(operations) > 0 && len(operations) == limit {
		last := operations[len(operations)-1]
		res.Cursor = &t_api.Cursor[t_api.ListOperationsRequest]{
			Next: &t_api.ListOperationsRequest{
				States:   states,
				Function: function,
				Limit:    limit,
				SortId:   &last.SortId,
			},
		}
	}

	done(t_api.StatusOK)
	return res, nil
}

func (s *Service) CancelOperation(ctx context.Context, header *Header, id string) (*t_api.CancelOperationResponse, *t_api.Error) {
	done := s.observe(t_api.CancelOperation)

	op, err := s.lifecycle.Cancel(ctx, id, header.Owner)
	if err != nil {
		done(err.Code())
		return nil, err
	}

	done(t_api.StatusOK)
	return &t_api.CancelOperationResponse{
		Status:    t_api.StatusOK,
		Operation: op,
	}, nil
}
