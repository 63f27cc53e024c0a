// Package policy resolves pixel formats and evaluates conversion rules.
//
// Rules come from YAML (or JSON) sources grouped by engine identifier. A rule
// set is loaded once, explicitly, and shared by reference between Policy
// instances; there is no process-wide rule table.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/format"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Severity is either one level for every domain or a per-domain map with a
// "default" key.
type Severity struct {
	Default string
	Domains map[string]string
}

func (s *Severity) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		s.Default = n.Value
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := n.Decode(&m); err != nil {
			return err
		}
		s.Default = m["default"]
		delete(m, "default")
		s.Domains = m
		return nil
	}
	return fmt.Errorf("line %d: severity must be a string or a mapping", n.Line)
}

// Resolve returns the level for domain, falling back to the default. A rule
// that names no level is a warning.
func (s Severity) Resolve(domain string) string {
	if v, ok := s.Domains[domain]; ok && domain != "" && v != "" {
		return v
	}
	if s.Default == "" {
		return SeverityWarning
	}
	return s.Default
}

func (s Severity) validate() error {
	check := func(v string) error {
		switch v {
		case "", SeverityError, SeverityWarning:
			return nil
		}
		return fmt.Errorf("unknown severity %q", v)
	}
	if err := check(s.Default); err != nil {
		return err
	}
	for _, v := range s.Domains {
		if err := check(v); err != nil {
			return err
		}
	}
	return nil
}

// Constraints are allow-lists; an empty list places no constraint.
type Constraints struct {
	RenderingIntents       []string `yaml:"renderingIntents"`
	SourceColorSpaces      []string `yaml:"sourceColorSpaces"`
	DestinationColorSpaces []string `yaml:"destinationColorSpaces"`
	BlackPointCompensation []bool   `yaml:"blackPointCompensation"`
	// When is a JavaScript expression over sourceColorSpace,
	// destinationColorSpace, renderingIntent and blackPointCompensation.
	When string `yaml:"when"`

	intents []cmm.Intent
	sources []format.ColorSpace
	dests   []format.ColorSpace
	when    *predicate
}

// Overrides adjust a conversion. Nil and empty fields leave the conversion
// unchanged; a false pointer is an explicit "no".
type Overrides struct {
	RenderingIntent               string   `yaml:"renderingIntent,omitempty"`
	RequiredIntermediateProfiles  []string `yaml:"requiredIntermediateProfiles,omitempty"`
	RequiresMultiprofileTransform *bool    `yaml:"requiresMultiprofileTransform,omitempty"`
	MultiprofileBlackpointScaling *bool    `yaml:"multiprofileBlackpointScaling,omitempty"`

	intent *cmm.Intent
}

// Intent returns the substituted intent, if any.
func (o Overrides) Intent() (cmm.Intent, bool) {
	if o.intent == nil {
		return 0, false
	}
	return *o.intent, true
}

// merge applies later on top of o, field by field.
func (o Overrides) merge(later Overrides) Overrides {
	if later.intent != nil {
		o.RenderingIntent, o.intent = later.RenderingIntent, later.intent
	}
	if len(later.RequiredIntermediateProfiles) > 0 {
		o.RequiredIntermediateProfiles = append([]string(nil), later.RequiredIntermediateProfiles...)
	}
	if later.RequiresMultiprofileTransform != nil {
		o.RequiresMultiprofileTransform = later.RequiresMultiprofileTransform
	}
	if later.MultiprofileBlackpointScaling != nil {
		o.MultiprofileBlackpointScaling = later.MultiprofileBlackpointScaling
	}
	return o
}

// Rule is one policy rule.
type Rule struct {
	Description string      `yaml:"description"`
	Severity    Severity    `yaml:"severity"`
	Constraints Constraints `yaml:"constraints"`
	Overrides   Overrides   `yaml:"overrides"`
}

// Group scopes rules to engines. Entries are path.Match patterns, so "*"
// matches every engine.
type Group struct {
	Engines []string `yaml:"engines"`
	Rules   []Rule   `yaml:"rules"`
}

func (g *Group) appliesTo(engine string) bool {
	for _, pattern := range g.Engines {
		if ok, _ := path.Match(pattern, engine); ok {
			return true
		}
	}
	return false
}

// RuleSet is an ordered list of groups.
type RuleSet struct {
	Groups []Group `yaml:"groups"`
	// Source is the file the set was loaded from, or "" for inline data.
	Source string `yaml:"-"`
}

//go:embed default_rules.yaml
var defaultRules []byte

// Default returns the built-in rule set.
func Default() (*RuleSet, error) {
	rs, err := Parse(defaultRules, "")
	if err != nil {
		return nil, fmt.Errorf("policy: default rules: %w", err)
	}
	rs.Source = "default_rules.yaml"
	return rs, nil
}

// Load reads a rule set from a file. Relative intermediate profile paths
// resolve against the file's directory.
func Load(file string) (*RuleSet, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	rs, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", file, err)
	}
	rs.Source = abs
	return rs, nil
}

// Parse decodes and compiles a rule set. baseDir anchors relative
// intermediate profile paths; empty means the working directory.
func Parse(data []byte, baseDir string) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		baseDir = wd
	}
	for gi := range rs.Groups {
		g := &rs.Groups[gi]
		if len(g.Engines) == 0 {
			g.Engines = []string{"*"}
		}
		for _, pattern := range g.Engines {
			if _, err := path.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf("group %d: bad engine pattern %q", gi, pattern)
			}
		}
		for ri := range g.Rules {
			if err := g.Rules[ri].compile(baseDir); err != nil {
				return nil, fmt.Errorf("group %d rule %d (%s): %w", gi, ri, g.Rules[ri].Description, err)
			}
		}
	}
	return &rs, nil
}

func (r *Rule) compile(baseDir string) error {
	if err := r.Severity.validate(); err != nil {
		return err
	}
	c := &r.Constraints
	for _, s := range c.RenderingIntents {
		i, err := cmm.ParseIntent(s)
		if err != nil {
			return err
		}
		c.intents = append(c.intents, i)
	}
	for _, s := range c.SourceColorSpaces {
		cs, err := format.ParseColorSpace(s)
		if err != nil {
			return err
		}
		c.sources = append(c.sources, cs)
	}
	for _, s := range c.DestinationColorSpaces {
		cs, err := format.ParseColorSpace(s)
		if err != nil {
			return err
		}
		c.dests = append(c.dests, cs)
	}
	if strings.TrimSpace(c.When) != "" {
		p, err := compilePredicate(c.When)
		if err != nil {
			return err
		}
		c.when = p
	}

	o := &r.Overrides
	if o.RenderingIntent != "" {
		i, err := cmm.ParseIntent(o.RenderingIntent)
		if err != nil {
			return err
		}
		o.intent = &i
	}
	for i, p := range o.RequiredIntermediateProfiles {
		o.RequiredIntermediateProfiles[i] = resolveProfileRef(p, baseDir)
	}
	return nil
}

// resolveProfileRef turns a relative path into an absolute one. Built-in
// names, URLs and absolute paths are returned unchanged.
func resolveProfileRef(ref, baseDir string) string {
	switch {
	case ref == string(cmm.BuiltinLab), ref == string(cmm.BuiltinSRGB):
		return ref
	case strings.Contains(ref, "://"), filepath.IsAbs(ref):
		return ref
	}
	return filepath.Clean(filepath.Join(baseDir, ref))
}
