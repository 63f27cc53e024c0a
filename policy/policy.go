package policy

import (
	"fmt"
	"time"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/observability"
)

// ConversionDescriptor is what rules are matched against.
type ConversionDescriptor struct {
	SourceColorSpace       format.ColorSpace
	DestinationColorSpace  format.ColorSpace
	RenderingIntent        cmm.Intent
	BlackPointCompensation bool
	SourceProfile          cmm.ProfileSource
	DestinationProfile     cmm.ProfileSource
}

// TraceEntry records one matched rule.
type TraceEntry struct {
	Group       int
	Rule        int
	Description string
	Severity    string
	Overrides   Overrides
	// Err is set when the rule's predicate failed to evaluate; such rules do
	// not match.
	Err error
}

// Evaluation is the outcome of matching a conversion against the rules.
type Evaluation struct {
	Valid     bool
	Warnings  []string
	Errors    []string
	Overrides Overrides
	Trace     []TraceEntry
	Domain    string
}

// Violation returns a PolicyViolation for an invalid evaluation, or nil.
func (e Evaluation) Violation() error {
	if e.Valid {
		return nil
	}
	return &colorerr.PolicyViolation{Domain: e.Domain, Messages: e.Errors}
}

// Config configures a Policy.
type Config struct {
	// Rules defaults to the embedded rule set.
	Rules *RuleSet
	// EngineIdentifier selects rule groups, e.g. Provider.Identifier().
	EngineIdentifier string
	// EngineEndianness is the engine's 16-bit memory order.
	EngineEndianness format.Endianness
	// Domain selects per-domain severities; empty uses defaults.
	Domain string
	// PredicateTimeout bounds a single `when` evaluation.
	PredicateTimeout time.Duration
	Logger           observability.Logger
}

const defaultPredicateTimeout = 100 * time.Millisecond

// Policy resolves formats and evaluates conversions for one engine. It is
// not safe for concurrent use; each converter owns its own Policy while the
// rule set itself is shared.
type Policy struct {
	rules    *RuleSet
	engine   string
	domain   string
	resolver *format.Resolver
	vm       *predicateVM
	logger   observability.Logger
}

// New builds a Policy.
func New(cfg Config) (*Policy, error) {
	rules := cfg.Rules
	if rules == nil {
		var err error
		if rules, err = Default(); err != nil {
			return nil, err
		}
	}
	timeout := cfg.PredicateTimeout
	if timeout == 0 {
		timeout = defaultPredicateTimeout
	}
	logger := observability.OrNop(cfg.Logger).With(observability.String("component", "policy"))
	return &Policy{
		rules:    rules,
		engine:   cfg.EngineIdentifier,
		domain:   cfg.Domain,
		resolver: format.NewResolver(cfg.EngineEndianness, logger),
		vm:       newPredicateVM(timeout),
		logger:   logger,
	}, nil
}

// Resolver exposes the format resolver.
func (p *Policy) Resolver() *format.Resolver { return p.resolver }

// Domain returns the active severity domain.
func (p *Policy) Domain() string { return p.domain }

// ResolveInputFormat resolves the input side of opts.
func (p *Policy) ResolveInputFormat(opts format.Options) (format.Code, error) {
	return p.resolver.ResolveInput(opts)
}

// ResolveOutputFormat resolves the output side of opts.
func (p *Policy) ResolveOutputFormat(opts format.Options) (format.Code, error) {
	return p.resolver.ResolveOutput(opts)
}

// EvaluateConversion matches d against every rule for the active engine.
// Overrides of matching rules merge in declaration order; every match is
// traced.
func (p *Policy) EvaluateConversion(d ConversionDescriptor) Evaluation {
	ev := Evaluation{Valid: true, Domain: p.domain}
	for gi := range p.rules.Groups {
		g := &p.rules.Groups[gi]
		if !g.appliesTo(p.engine) {
			continue
		}
		for ri := range g.Rules {
			r := &g.Rules[ri]
			ok, err := p.matches(r, d)
			if err != nil {
				p.logger.Debug("rule predicate failed",
					observability.String("rule", r.Description), observability.Error("error", err))
				ev.Trace = append(ev.Trace, TraceEntry{Group: gi, Rule: ri, Description: r.Description, Err: err})
				continue
			}
			if !ok {
				continue
			}
			sev := r.Severity.Resolve(p.domain)
			ev.Trace = append(ev.Trace, TraceEntry{
				Group:       gi,
				Rule:        ri,
				Description: r.Description,
				Severity:    sev,
				Overrides:   r.Overrides,
			})
			ev.Overrides = ev.Overrides.merge(r.Overrides)
			switch sev {
			case SeverityError:
				ev.Valid = false
				ev.Errors = append(ev.Errors, r.Description)
			case SeverityWarning:
				ev.Warnings = append(ev.Warnings, r.Description)
			}
		}
	}
	if len(ev.Trace) > 0 {
		p.logger.Debug("conversion rules matched",
			observability.String("source", string(d.SourceColorSpace)),
			observability.String("destination", string(d.DestinationColorSpace)),
			observability.String("intent", d.RenderingIntent.String()),
			observability.Int("matches", len(ev.Trace)),
			observability.Bool("valid", ev.Valid))
	}
	return ev
}

func (p *Policy) matches(r *Rule, d ConversionDescriptor) (bool, error) {
	c := &r.Constraints
	if len(c.intents) > 0 && !contains(c.intents, d.RenderingIntent) {
		return false, nil
	}
	if len(c.sources) > 0 && !contains(c.sources, d.SourceColorSpace) {
		return false, nil
	}
	if len(c.dests) > 0 && !contains(c.dests, d.DestinationColorSpace) {
		return false, nil
	}
	if len(c.BlackPointCompensation) > 0 && !contains(c.BlackPointCompensation, d.BlackPointCompensation) {
		return false, nil
	}
	if c.when == nil {
		return true, nil
	}
	return p.vm.eval(c.when, map[string]interface{}{
		"sourceColorSpace":       string(d.SourceColorSpace),
		"destinationColorSpace":  string(d.DestinationColorSpace),
		"renderingIntent":        d.RenderingIntent.String(),
		"blackPointCompensation": d.BlackPointCompensation,
		"sourceProfile":          d.SourceProfile.String(),
		"destinationProfile":     d.DestinationProfile.String(),
	})
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (e Evaluation) String() string {
	return fmt.Sprintf("valid=%t warnings=%d errors=%d matches=%d", e.Valid, len(e.Warnings), len(e.Errors), len(e.Trace))
}
