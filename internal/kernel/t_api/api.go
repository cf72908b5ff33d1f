package t_api

type Kind int

const (
	// CALLS
	Call Kind = iota

	// OPERATIONS
	StatusOperation
	ListOperations
	CancelOperation

	// LOCKS
	StatusLock
	ReleaseLock
	ForceReleaseLock
)

func (k Kind) String() string {
	switch k {
	case Call:
		return "Call"
	case StatusOperation:
		return "StatusOperation"
	case ListOperations:
		return "ListOperations"
	case CancelOperation:
		return "CancelOperation"
	case StatusLock:
		return "StatusLock"
	case ReleaseLock:
		return "ReleaseLock"
	case ForceReleaseLock:
		return "ForceReleaseLock"
	default:
		panic("invalid api")
	}
}
