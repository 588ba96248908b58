package risk

import "pmsim/internal/domain"

func DefaultRiskSpecs() []domain.RiskSpec {
	return []domain.RiskSpec{
		{Name: "ExecutionDelay", Probability: 0.3, Impact: []string{"time", "budget"}, Conditions: []string{"execution_delay"}},
		{Name: "AcceleratedSpending", Probability: 0.2, Impact: []string{"budget"}, Conditions: []string{"accelerated_spending"}},
		{Name: "CostIncrease", Probability: 0.3, Impact: []string{"budget"}, Conditions: []string{"cost_increase"}},
		{Name: "UnfulfilledDependencies", Probability: 0.25, Impact: []string{"number_of_tasks", "Workstations"}, Conditions: []string{"unfulfilled_dependencies"}},
		{Name: "LackOfStaff", Probability: 0.4, Impact: []string{"time", "reward"}, Conditions: []string{"lack_of_staff"}},
		{Name: "LowProductivity", Probability: 0.35, Impact: []string{"number_of_tasks", "rewards"}, Conditions: []string{"low_productivity"}},
		{Name: "LowMotivation", Probability: 0.25, Impact: []string{"number_of_tasks", "Network"}, Conditions: []string{"low_motivation"}},
		{Name: "LowPriority", Probability: 0.3, Impact: []string{"Developers", "Testers"}, Conditions: []string{"low_priority"}},
	}
}

func DefaultOpportunitySpecs() []domain.RiskSpec {
	return []domain.RiskSpec{
		{Name: "HighProductivity", Probability: 0.2, Impact: []string{"time", "rewards"}, Benefits: []string{"budget", "time"}, Conditions: []string{"high_productivity"}},
		{Name: "HighMotivation", Probability: 0.3, Impact: []string{"Resource1", "Resource2"}, Benefits: []string{"Resource3", "Resource1"}, Conditions: []string{"high_motivation"}},
		{Name: "OptimizedResources", Probability: 0.25, Impact: []string{"Resource5", "Resource6"}, Benefits: []string{"Resource9", "Resource1"}, Conditions: []string{"optimized_resources"}},
		{Name: "CostSaving", Probability: 0.15, Impact: []string{"Resource2", "Resource4"}, Benefits: []string{"Resource6", "Resource8"}, Conditions: []string{"cost_saving"}},
		{Name: "EarlyCompletion", Probability: 0.3, Impact: []string{"Resource1", "Resource3"}, Benefits: []string{"Resource1", "Resource8"}, Conditions: []string{"early_completion"}},
		{Name: "HighCooperation", Probability: 0.2, Impact: []string{"Resource7", "Resource5"}, Benefits: []string{"Resource7", "Resource3"}, Conditions: []string{"high_cooperation"}},
		{Name: "MilestoneCompletion", Probability: 0.4, Impact: []string{"Resource8", "Resource2"}, Benefits: []string{"Resource1", "Resource3"}, Conditions: []string{"milestone_completion"}},
		{Name: "RiskManagementSuccess", Probability: 0.25, Impact: []string{"Resource3", "Resource4"}, Benefits: []string{"Resource2", "Resource6"}, Conditions: []string{"risk_management_success"}},
		{Name: "Innovation", Probability: 0.2, Impact: []string{"Resource2", "Resource7"}, Benefits: []string{"Resource1", "Resource2"}, Conditions: []string{"innovation"}},
	}
}
