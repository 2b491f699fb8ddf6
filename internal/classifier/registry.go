package classifier

import (
	"fmt"
	"sort"
	"strings"

	"ripeness-monitor/internal/models"
)

var builtin = map[string]*Policy{
	RawThreshold.Name:       RawThreshold,
	PercentageBaseline.Name: PercentageBaseline,
}

// Lookup returns a built-in policy by name or versioned id
func Lookup(name string) (*Policy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(key, '@'); i >= 0 {
		p, ok := builtin[key[:i]]
		if !ok || p.ID() != key {
			return nil, fmt.Errorf("unknown rule policy: %s", name)
		}
		return p, nil
	}
	p, ok := builtin[key]
	if !ok {
		return nil, fmt.Errorf("unknown rule policy: %s", name)
	}
	return p, nil
}

// Policies returns the built-in policies ordered by name
func Policies() []*Policy {
	out := make([]*Policy, 0, len(builtin))
	for _, p := range builtin {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Selector binds the deployment's default policy and per-commodity overrides
type Selector struct {
	def       *Policy
	overrides map[string]*Policy
}

// NewSelector resolves and validates the configured policies
func NewSelector(defaultPolicy string, overrides map[string]string) (*Selector, error) {
	def, err := Lookup(defaultPolicy)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	s := &Selector{def: def, overrides: make(map[string]*Policy, len(overrides))}
	for commodity, name := range overrides {
		p, err := Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("override for %s: %w", commodity, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("override for %s: %w", commodity, err)
		}
		s.overrides[normalizeCommodity(commodity)] = p
	}
	return s, nil
}

// NewStaticSelector always selects p
func NewStaticSelector(p *Policy) *Selector {
	return &Selector{def: p, overrides: map[string]*Policy{}}
}

// Default returns the deployment-wide policy
func (s *Selector) Default() *Policy {
	return s.def
}

// For returns the policy bound to a commodity
func (s *Selector) For(commodity string) *Policy {
	if p, ok := s.overrides[normalizeCommodity(commodity)]; ok {
		return p
	}
	return s.def
}

// Overrides returns commodity -> policy id
func (s *Selector) Overrides() map[string]string {
	out := make(map[string]string, len(s.overrides))
	for k, p := range s.overrides {
		out[k] = p.ID()
	}
	return out
}

// Apply classifies r under the policy bound to its commodity
func (s *Selector) Apply(r *models.Reading) Result {
	return s.For(r.CommodityType).Apply(r)
}
