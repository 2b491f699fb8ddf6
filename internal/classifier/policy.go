package classifier

import (
	"errors"
	"fmt"
	"strings"

	"ripeness-monitor/internal/models"
)

// Input is the numeric view of a reading that rules evaluate
type Input struct {
	Commodity   string
	Temperature float64
	Humidity    float64
	GasRaw      float64
}

// InputOf extracts the rule input from a reading
func InputOf(r *models.Reading) Input {
	return Input{
		Commodity:   r.CommodityType,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		GasRaw:      r.GasRaw,
	}
}

// Result is the derived state/validity pair produced by a policy
type Result struct {
	State    models.State
	Validity *int
	Unit     models.ValidityUnit
	Policy   string
}

// Rule is one guarded branch of a policy
type Rule struct {
	Name  string
	When  func(Input) bool
	State models.State
}

// Policy is an immutable, named and versioned set of ordered rules.
// Rules are evaluated top to bottom and the first match wins; Fallback
// covers every input no rule matched.
type Policy struct {
	Name     string
	Version  int
	Unit     models.ValidityUnit
	Rules    []Rule
	Fallback func(Input) models.State
	Validity func(models.State, Input) *int
}

// ID returns the versioned policy identifier, e.g. raw-threshold@1
func (p *Policy) ID() string {
	return fmt.Sprintf("%s@%d", p.Name, p.Version)
}

// Validate reports configuration errors that would make Classify partial
func (p *Policy) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("policy name is required"))
	}
	if p.Version <= 0 {
		errs = append(errs, fmt.Errorf("policy %q: version must be positive", p.Name))
	}
	if p.Unit != models.UnitDays && p.Unit != models.UnitHours {
		errs = append(errs, fmt.Errorf("policy %q: unknown validity unit %q", p.Name, p.Unit))
	}
	if p.Fallback == nil {
		errs = append(errs, fmt.Errorf("policy %q: missing fallback, rules would not cover every input", p.Name))
	}
	if p.Validity == nil {
		errs = append(errs, fmt.Errorf("policy %q: missing validity function", p.Name))
	}
	for i, r := range p.Rules {
		if r.When == nil {
			errs = append(errs, fmt.Errorf("policy %q: rule %d (%s) has no guard", p.Name, i, r.Name))
		}
		if r.State == "" {
			errs = append(errs, fmt.Errorf("policy %q: rule %d (%s) has no state", p.Name, i, r.Name))
		}
	}
	return errors.Join(errs...)
}

// Classify maps an input to its state and validity. It is pure and total.
func (p *Policy) Classify(in Input) Result {
	state := p.state(in)
	return Result{
		State:    state,
		Validity: p.Validity(state, in),
		Unit:     p.Unit,
		Policy:   p.ID(),
	}
}

func (p *Policy) state(in Input) models.State {
	for _, r := range p.Rules {
		if r.When(in) {
			return r.State
		}
	}
	return p.Fallback(in)
}

// Apply classifies a reading and sets the derived pair on it together
func (p *Policy) Apply(r *models.Reading) Result {
	res := p.Classify(InputOf(r))
	r.DerivedState = res.State
	r.DerivedValidity = res.Validity
	r.ValidityUnit = res.Unit
	r.Policy = res.Policy
	return res
}

func between(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func normalizeCommodity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
