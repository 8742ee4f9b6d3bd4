// Package budget computes how many agentic tool-use steps a request can
// afford before any provider call is made.
package budget

import (
	"github.com/charmbracelet/catwalk/pkg/catwalk"
)

// Assumed average size of one agentic step, used to price steps before any
// real usage exists.
const (
	avgStepInputTokens  = 3000
	avgStepOutputTokens = 800

	// CreditsPerDollar converts catwalk's dollar-denominated model prices
	// into ledger credits.
	CreditsPerDollar = 100
)

// StepBudget is the derived, non-persistent iteration ceiling for one
// request.
type StepBudget struct {
	MaxSteps             int     `json:"max_steps"`
	EstimatedCostPerStep float64 `json:"estimated_cost_per_step"`
	TotalEstimatedCost   float64 `json:"total_estimated_cost"`
}

// Gate derives step budgets from plan ceilings and model prices.
type Gate struct {
	ceilings map[string]int
	fallback int
}

// NewGate builds a gate from a plan -> hard step ceiling table. The ceiling
// applies even with unlimited balance; it is what stops runaway agentic
// loops. Plans not in the table get defaultCeiling.
func NewGate(ceilings map[string]int, defaultCeiling int) *Gate {
	return &Gate{ceilings: ceilings, fallback: defaultCeiling}
}

// Ceiling returns the hard step ceiling for a plan.
func (g *Gate) Ceiling(plan string) int {
	if c, ok := g.ceilings[plan]; ok {
		return c
	}
	return g.fallback
}

// Affordable computes the largest affordable step count for the request.
// It returns MaxSteps == 0 when the balance is non-positive, which rejects
// the request before any provider call. Whenever the balance is positive at
// least one step is granted.
func (g *Gate) Affordable(plan string, model catwalk.Model, creditBalance float64) StepBudget {
	costPerStep := EstimatedStepCost(model)

	if creditBalance <= 0 {
		return StepBudget{MaxSteps: 0, EstimatedCostPerStep: costPerStep}
	}

	ceiling := g.Ceiling(plan)
	maxSteps := ceiling
	if costPerStep > 0 {
		affordable := int(creditBalance / costPerStep)
		if affordable < maxSteps {
			maxSteps = affordable
		}
	}
	if maxSteps < 1 {
		maxSteps = 1
	}

	return StepBudget{
		MaxSteps:             maxSteps,
		EstimatedCostPerStep: costPerStep,
		TotalEstimatedCost:   float64(maxSteps) * costPerStep,
	}
}

// EstimatedStepCost prices one assumed-average step in credits.
func EstimatedStepCost(model catwalk.Model) float64 {
	inputCost := float64(avgStepInputTokens) / 1_000_000 * model.CostPer1MIn
	outputCost := float64(avgStepOutputTokens) / 1_000_000 * model.CostPer1MOut
	return (inputCost + outputCost) * CreditsPerDollar
}

// TokenCost prices real token consumption in credits.
func TokenCost(model catwalk.Model, inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * model.CostPer1MIn
	outputCost := float64(outputTokens) / 1_000_000 * model.CostPer1MOut
	return (inputCost + outputCost) * CreditsPerDollar
}
