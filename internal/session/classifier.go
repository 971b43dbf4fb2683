package session

import "net/http"

// Outcome is the classified result of an order submission.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeUnauthorized
	OutcomeRateLimited
	OutcomeRejected
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// outcomeInvalidOrder labels cycles whose parameters could not be resolved.
// No request is sent for them, so it is not a response class.
const outcomeInvalidOrder = "invalid_order"

// Classify maps an HTTP status to an Outcome.
func Classify(statusCode int) Outcome {
	switch statusCode {
	case http.StatusOK:
		return OutcomeAccepted
	case http.StatusUnauthorized:
		return OutcomeUnauthorized
	case http.StatusTooManyRequests:
		return OutcomeRateLimited
	case http.StatusUnprocessableEntity:
		return OutcomeRejected
	default:
		return OutcomeUnknown
	}
}

// NeedsReauth reports whether the outcome requires a fresh password grant
// before the next submission.
func (o Outcome) NeedsReauth() bool {
	return o == OutcomeUnauthorized
}
