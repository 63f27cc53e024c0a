package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/colorkit/observability"
)

// StrictStrategy fails every violating conversion.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnViolation(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy lets violating conversions proceed and records them, for
// audit-only domains. It is safe for concurrent use so one instance can
// serve every worker context.
type LenientStrategy struct {
	logger observability.Logger

	mu     sync.Mutex
	errors []error
}

func NewLenientStrategy(logger observability.Logger) *LenientStrategy {
	return &LenientStrategy{logger: observability.OrNop(logger)}
}

func (s *LenientStrategy) OnViolation(ctx context.Context, err error, location Location) Action {
	s.logger.Warn("policy violation tolerated",
		observability.String("component", location.Component),
		observability.String("source", location.Source),
		observability.String("destination", location.Destination),
		observability.String("intent", location.Intent),
		observability.Error("error", err))
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Errorf("[%s] %s -> %s (%s): %w",
		location.Component, location.Source, location.Destination, location.Intent, err))
	s.mu.Unlock()
	return ActionWarn
}

// Errors returns the violations recorded so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
