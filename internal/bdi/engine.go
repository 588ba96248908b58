package bdi

import "fmt"

// Agent is one role of the decision cycle. P is the perception the role
// receives, A the action it hands back to the environment.
type Agent[P, A any] interface {
	Perceive(p P) error
	ReviseBeliefs() error
	GenerateDesires() error
	FormIntentions() error
	ResolveAction() (A, error)
}

// Step runs one full decision cycle and stops at the first failing phase.
func Step[P, A any](agent Agent[P, A], p P) (A, error) {
	var zero A
	if err := agent.Perceive(p); err != nil {
		return zero, fmt.Errorf("perceive: %w", err)
	}
	if err := agent.ReviseBeliefs(); err != nil {
		return zero, fmt.Errorf("revise beliefs: %w", err)
	}
	if err := agent.GenerateDesires(); err != nil {
		return zero, fmt.Errorf("generate desires: %w", err)
	}
	if err := agent.FormIntentions(); err != nil {
		return zero, fmt.Errorf("form intentions: %w", err)
	}
	action, err := agent.ResolveAction()
	if err != nil {
		return zero, fmt.Errorf("resolve action: %w", err)
	}
	return action, nil
}
