package t_api

import (
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

// CallRequest is the transport-neutral view of one inbound RPC call.
// Options carry per-call extension options as an opaque key/value map,
// each extension parses its own keys.
type CallRequest struct {
	Function  string            `json:"function"`
	Version   string            `json:"version"`
	Arguments []byte            `json:"arguments,omitempty"`
	Options   map[string]string `json:"options,omitempty"`

	// Owner and Admin are supplied by the transport's authentication
	// layer, never by the request body.
	Owner string `json:"-"`
	Admin bool   `json:"-"`
}

func (r *CallRequest) Option(key string) (string, bool) {
	v, ok := r.Options[key]
	return v, ok
}

// ListOperationsRequest is the continuation state signed into a list
// cursor, the next page reuses the original query verbatim.
type ListOperationsRequest struct {
	Owner    string           `json:"-"`
	States   operation.Status `json:"states,omitempty"`
	Function string           `json:"function,omitempty"`
	Limit    int              `json:"limit"`
	SortId   *int64           `json:"sortId,omitempty"`
}
