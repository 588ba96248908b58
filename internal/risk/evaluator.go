package risk

import (
	"fmt"
	"math/rand"

	"pmsim/internal/domain"
)

type Risk struct {
	Name        string
	Probability float64
	Impact      []string
	Conditions  []Condition
}

type Opportunity struct {
	Risk
	Benefits []string
}

// Holds reports whether every condition holds, stopping at the first one
// that does not.
func (r Risk) Holds(s Snapshot, now float64, rng *rand.Rand) bool {
	for _, c := range r.Conditions {
		if !c.Check(s, now, rng) {
			return false
		}
	}
	return true
}

func Compile(spec domain.RiskSpec) (Risk, error) {
	r := Risk{
		Name:        spec.Name,
		Probability: spec.Probability,
		Impact:      append([]string(nil), spec.Impact...),
	}
	for _, name := range spec.Conditions {
		c, err := ConditionByName(name)
		if err != nil {
			return Risk{}, fmt.Errorf("compile %s: %w", spec.Name, err)
		}
		r.Conditions = append(r.Conditions, c)
	}
	return r, nil
}

func CompileOpportunity(spec domain.RiskSpec) (Opportunity, error) {
	r, err := Compile(spec)
	if err != nil {
		return Opportunity{}, err
	}
	return Opportunity{Risk: r, Benefits: append([]string(nil), spec.Benefits...)}, nil
}

// Evaluator classifies the catalogue against a belief snapshot. Its random
// stream is used only by stochastic conditions.
type Evaluator struct {
	risks         []Risk
	opportunities []Opportunity
	rng           *rand.Rand
}

func NewEvaluator(risks []Risk, opportunities []Opportunity, rng *rand.Rand) *Evaluator {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Evaluator{risks: risks, opportunities: opportunities, rng: rng}
}

// FromProject compiles the project's catalogue, falling back to the default
// catalogues when the project defines none.
func FromProject(p *domain.Project, rng *rand.Rand) (*Evaluator, error) {
	riskSpecs := p.Risks
	if len(riskSpecs) == 0 {
		riskSpecs = DefaultRiskSpecs()
	}
	oppSpecs := p.Opportunities
	if len(oppSpecs) == 0 {
		oppSpecs = DefaultOpportunitySpecs()
	}
	risks := make([]Risk, 0, len(riskSpecs))
	for _, spec := range riskSpecs {
		r, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		risks = append(risks, r)
	}
	opps := make([]Opportunity, 0, len(oppSpecs))
	for _, spec := range oppSpecs {
		o, err := CompileOpportunity(spec)
		if err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return NewEvaluator(risks, opps, rng), nil
}

// Evaluate returns the risks and opportunities whose conditions all hold.
func (e *Evaluator) Evaluate(s Snapshot, now float64) ([]Risk, []Opportunity) {
	var risks []Risk
	for _, r := range e.risks {
		if r.Holds(s, now, e.rng) {
			risks = append(risks, r)
		}
	}
	var opps []Opportunity
	for _, o := range e.opportunities {
		if o.Holds(s, now, e.rng) {
			opps = append(opps, o)
		}
	}
	return risks, opps
}
