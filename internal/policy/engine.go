package policy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyProposal    = errors.New("rule proposal has no conditions or desires")
	ErrUnknownCondition = errors.New("rule proposal uses unknown condition")
	ErrUnknownDesire    = errors.New("rule proposal sets unknown desire")
)

// DefaultWeight is given to proposals that do not carry a positive weight.
const DefaultWeight = 5.0

// Proposal is a synthesized rule: when every condition holds, every listed
// desire is set.
type Proposal struct {
	ID         string   `toml:"id" json:"id"`
	Weight     float64  `toml:"weight" json:"weight"`
	Conditions []string `toml:"conditions" json:"conditions"`
	Desires    []string `toml:"desires" json:"desires"`
}

// Catalog is what the agent knows how to evaluate and set.
type Catalog interface {
	HasCondition(name string) bool
	HasDesire(name string) bool
}

type Engine struct {
	catalog Catalog
}

func New(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Admit validates a proposal and returns its normalized form: names trimmed
// and deduplicated, a positive weight and an id derived from the content
// when none was given.
func (e *Engine) Admit(p Proposal) (Proposal, error) {
	out := Proposal{
		ID:         strings.TrimSpace(p.ID),
		Weight:     p.Weight,
		Conditions: normalize(p.Conditions),
		Desires:    normalize(p.Desires),
	}
	if len(out.Conditions) == 0 || len(out.Desires) == 0 {
		return Proposal{}, ErrEmptyProposal
	}
	for _, c := range out.Conditions {
		if !e.catalog.HasCondition(c) {
			return Proposal{}, fmt.Errorf("%w: %s", ErrUnknownCondition, c)
		}
	}
	for _, d := range out.Desires {
		if !e.catalog.HasDesire(d) {
			return Proposal{}, fmt.Errorf("%w: %s", ErrUnknownDesire, d)
		}
	}
	if out.Weight <= 0 {
		out.Weight = DefaultWeight
	}
	if out.ID == "" {
		out.ID = "when_" + strings.Join(out.Conditions, "_") + "_then_" + strings.Join(out.Desires, "_")
	}
	return out, nil
}

func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
