package policy

import "errors"

var (
	// ErrPolicy is returned for malformed Chain Policy input, e.g. an
	// out-of-range risk score. Never partially applied.
	ErrPolicy = errors.New("invalid policy input")

	// ErrNoFurtherEscalation is returned when escalation is requested past
	// the top of the ladder
	ErrNoFurtherEscalation = errors.New("no further escalation possible")
)
