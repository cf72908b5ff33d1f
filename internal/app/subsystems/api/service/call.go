package service

import (
	"context"
	"encoding/json"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
)

type CallBody struct {
	Function  string            `json:"function" binding:"required" validate:"required,min=1,max=255"`
	Version   string            `json:"version" validate:"omitempty,max=64"`
	Arguments json.RawMessage   `json:"arguments"`
	Options   map[string]string `json:"options" validate:"omitempty,dive,keys,min=1,max=64,endkeys,max=4096"`
}

func (s *Service) Call(ctx context.Context, header *Header, body *CallBody) (*t_api.CallResponse, *t_api.Error) {
	done := s.observe(t_api.Call)

	if err := s.validate.Struct(body); err != nil {
		done(t_api.StatusFieldValidationError)
		return nil, t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	version := body.Version
	if version == "" {
		version = "1"
	}

	options := body.Options
	if options == nil {
		options = map[string]string{}
	}
	if _, ok := options["request_id"]; !ok {
		options["request_id"] = header.id()
	}

	res, err := s.invoker.Invoke(ctx, &t_api.CallRequest{
		Function:  body.Function,
		Version:   version,
		Arguments: body.Arguments,
		Options:   options,
		Owner:     header.Owner,
		Admin:     header.Admin,
	})

	if err != nil {
		done(err.Code())
		return nil, err
	}

	done(res.Status)
	return res, nil
}
