package operation

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Operation struct {
	Id          string    `json:"id"`
	Function    string    `json:"function"`
	Version     string    `json:"version"`
	Status      Status    `json:"status"`
	Progress    *float64  `json:"progress,omitempty"`
	Result      *Value    `json:"result,omitempty"`
	Errors      []Error   `json:"errors,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	CreatedOn   int64     `json:"createdOn"`
	StartedOn   *int64    `json:"startedOn,omitempty"`
	CompletedOn *int64    `json:"completedOn,omitempty"`
	CancelledOn *int64    `json:"cancelledOn,omitempty"`
	ExpiresAt   int64     `json:"expiresAt"`

	// CAS counter, incremented on every state-changing write.
	Counter int64  `json:"-"`
	SortId  int64  `json:"-"`
}

type Metadata struct {
	OwnerId   string `json:"ownerId"`
	RequestId string `json:"requestId,omitempty"`
	Callback  string `json:"callback,omitempty"`
}

type Value struct {
	Headers map[string]string `json:"headers,omitempty"`
	Data    []byte            `json:"data,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (o *Operation) String() string {
	return fmt.Sprintf(
		"Operation(id=%s, function=%s/%s, status=%s, progress=%v, counter=%d)",
		o.Id,
		o.Function,
		o.Version,
		o.Status,
		o.Progress,
		o.Counter,
	)
}

func (v Value) String() string {
	return fmt.Sprintf("Value(headers=%s, data=%s)", v.Headers, string(v.Data))
}

type Status int

const (
	Pending    Status = 1 << iota // 1
	Processing                    // 2
	Completed                     // 4
	Failed                        // 8
	Cancelled                     // 16
)

// Terminal is the mask of states that accept no further transitions.
const Terminal = Completed | Failed | Cancelled

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Processing:
		return "PROCESSING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		panic("invalid status")
	}
}

func (s Status) In(mask Status) bool {
	return s&mask != 0
}

func (s *Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var status string
	if err := json.Unmarshal(data, &status); err != nil {
		return err
	}

	parsed, err := ParseStatus(status)
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

func ParseStatus(status string) (Status, error) {
	switch strings.ToUpper(status) {
	case "PENDING":
		return Pending, nil
	case "PROCESSING":
		return Processing, nil
	case "COMPLETED":
		return Completed, nil
	case "FAILED":
		return Failed, nil
	case "CANCELLED":
		return Cancelled, nil
	default:
		return 0, fmt.Errorf("invalid status '%s'", status)
	}
}
