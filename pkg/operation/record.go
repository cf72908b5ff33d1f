package operation

import (
	"encoding/json"
)

type OperationRecord struct {
	Id            string
	Function      string
	FnVersion     string
	Status        Status
	Progress      *float64
	ResultHeaders []byte
	ResultData    []byte
	Errors        []byte
	OwnerId       string
	RequestId     *string
	Callback      *string
	CreatedOn     int64
	StartedOn     *int64
	CompletedOn   *int64
	CancelledOn   *int64
	ExpiresAt     int64
	Counter       int64
	SortId        int64
}

func (r *OperationRecord) Operation() (*Operation, error) {
	result, err := r.Result()
	if err != nil {
		return nil, err
	}

	var errors []Error
	if r.Errors != nil {
		if err := json.Unmarshal(r.Errors, &errors); err != nil {
			return nil, err
		}
	}

	metadata := &Metadata{OwnerId: r.OwnerId}
	if r.RequestId != nil {
		metadata.RequestId = *r.RequestId
	}
	if r.Callback != nil {
		metadata.Callback = *r.Callback
	}

	return &Operation{
		Id:          r.Id,
		Function:    r.Function,
		Version:     r.FnVersion,
		Status:      r.Status,
		Progress:    r.Progress,
		Result:      result,
		Errors:      errors,
		Metadata:    metadata,
		CreatedOn:   r.CreatedOn,
		StartedOn:   r.StartedOn,
		CompletedOn: r.CompletedOn,
		CancelledOn: r.CancelledOn,
		ExpiresAt:   r.ExpiresAt,
		Counter:     r.Counter,
		SortId:      r.SortId,
	}, nil
}

func (r *OperationRecord) Result() (*Value, error) {
	if r.ResultHeaders == nil && r.ResultData == nil {
		return nil, nil
	}

	var headers map[string]string
	if r.ResultHeaders != nil {
		if err := json.Unmarshal(r.ResultHeaders, &headers); err != nil {
			return nil, err
		}
	}

	return &Value{
		Headers: headers,
		Data:    r.ResultData,
	}, nil
}
