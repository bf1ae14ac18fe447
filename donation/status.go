package donation

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusValidating Status = "VALIDATING"
	StatusScheduled  Status = "SCHEDULED"
	StatusProcessing Status = "PROCESSING"
	StatusVerifying  Status = "VERIFYING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
	StatusDisputed   Status = "DISPUTED"
	StatusCancelled  Status = "CANCELLED"
)

// transitions is the complete table of legal moves
var transitions = map[Status][]Status{
	StatusPending:    {StatusValidating, StatusCancelled},
	StatusValidating: {StatusProcessing, StatusScheduled, StatusCancelled},
	StatusScheduled:  {StatusProcessing},
	StatusProcessing: {StatusVerifying, StatusFailed},
	StatusVerifying:  {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded, StatusDisputed},
}

func (s Status) CanTransition(to Status) bool {
	for _, target := range transitions[s] {
		if target == to {
			return true
		}
	}
	return false
}

// Terminal reports states that accept no further transition.
// COMPLETED is terminal for the payment but still admits refund and dispute.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// Submitted reports whether the gateway may have been contacted
func (s Status) Submitted() bool {
	switch s {
	case StatusPending, StatusValidating, StatusScheduled, StatusCancelled:
		return false
	default:
		return true
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusValidating, StatusScheduled, StatusProcessing, StatusVerifying,
		StatusCompleted, StatusFailed, StatusRefunded, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}
