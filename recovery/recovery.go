// Package recovery decides whether a policy violation aborts a conversion.
package recovery

import "context"

// Strategy is consulted when a conversion matches rules with error severity.
type Strategy interface {
	OnViolation(ctx context.Context, err error, location Location) Action
}

// Location describes the conversion that violated policy.
type Location struct {
	Component   string
	Source      string
	Destination string
	Intent      string
	Domain      string
}

type Action int

const (
	ActionFail Action = iota
	ActionWarn
)

func (a Action) String() string {
	if a == ActionWarn {
		return "warn"
	}
	return "fail"
}
