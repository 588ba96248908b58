package bdi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrRuleExists   = errors.New("rule already registered")
	ErrRuleNotFound = errors.New("rule not found")
)

// Rule is a weighted predicate over an agent. Eval sets desires on the agent
// and reports whether it fired. Core rules are exempt from adaptation.
type Rule[A any] struct {
	ID          string
	Weight      float64
	Core        bool
	Description string
	Eval        func(A) bool
}

type ruleState[A any] struct {
	rule   Rule[A]
	seq    int
	active bool
	fired  int
	since  int
}

// Registry holds an agent's rules and its active subset. It is owned by one
// agent and is not safe for concurrent use.
type Registry[A any] struct {
	rules map[string]*ruleState[A]
	seq   int
}

func NewRegistry[A any]() *Registry[A] {
	return &Registry[A]{rules: make(map[string]*ruleState[A])}
}

// Register adds an active rule.
func (r *Registry[A]) Register(rule Rule[A]) error {
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" || rule.Eval == nil {
		return fmt.Errorf("register rule %q: id and eval are required", rule.ID)
	}
	if _, ok := r.rules[rule.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	r.rules[rule.ID] = &ruleState[A]{rule: rule, seq: r.seq, active: true}
	r.seq++
	return nil
}

func (r *Registry[A]) Activate(id string) error {
	st, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	st.active = true
	return nil
}

func (r *Registry[A]) Deactivate(id string) error {
	st, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	st.active = false
	return nil
}

func (r *Registry[A]) IsActive(id string) bool {
	st, ok := r.rules[id]
	return ok && st.active
}

func (r *Registry[A]) Rule(id string) (Rule[A], bool) {
	st, ok := r.rules[id]
	if !ok {
		return Rule[A]{}, false
	}
	return st.rule, true
}

// Adjust adds delta to a rule's weight.
func (r *Registry[A]) Adjust(id string, delta float64) error {
	st, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	st.rule.Weight += delta
	return nil
}

// Active returns active rule ids by ascending weight, ties in registration
// order.
func (r *Registry[A]) Active() []string {
	states := r.sorted(func(st *ruleState[A]) bool { return st.active })
	ids := make([]string, len(states))
	for i, st := range states {
		ids[i] = st.rule.ID
	}
	return ids
}

// Evaluate runs every active rule against agent in Active order and returns
// the ids that fired. A rule deactivated by an earlier rule in the same pass
// is skipped.
func (r *Registry[A]) Evaluate(agent A) []string {
	var fired []string
	for _, st := range r.sorted(func(st *ruleState[A]) bool { return st.active }) {
		if !st.active {
			continue
		}
		if st.rule.Eval(agent) {
			st.fired++
			st.since++
			fired = append(fired, st.rule.ID)
		}
	}
	return fired
}

// FiredSinceReset lists rules that fired since the last ResetFired call, in
// registration order.
func (r *Registry[A]) FiredSinceReset() []string {
	states := r.sorted(func(st *ruleState[A]) bool { return st.since > 0 })
	sort.SliceStable(states, func(i, j int) bool { return states[i].seq < states[j].seq })
	ids := make([]string, len(states))
	for i, st := range states {
		ids[i] = st.rule.ID
	}
	return ids
}

func (r *Registry[A]) ResetFired() {
	for _, st := range r.rules {
		st.since = 0
	}
}

// FireCount is the total number of times a rule fired.
func (r *Registry[A]) FireCount(id string) int {
	if st, ok := r.rules[id]; ok {
		return st.fired
	}
	return 0
}

// Prune deactivates every active rule whose weight dropped to zero or below
// and returns their ids.
func (r *Registry[A]) Prune() []string {
	var pruned []string
	for _, st := range r.sorted(func(st *ruleState[A]) bool { return st.active && st.rule.Weight <= 0 }) {
		st.active = false
		pruned = append(pruned, st.rule.ID)
	}
	return pruned
}

func (r *Registry[A]) sorted(keep func(*ruleState[A]) bool) []*ruleState[A] {
	out := make([]*ruleState[A], 0, len(r.rules))
	for _, st := range r.rules {
		if keep(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rule.Weight != out[j].rule.Weight {
			return out[i].rule.Weight < out[j].rule.Weight
		}
		return out[i].seq < out[j].seq
	})
	return out
}
