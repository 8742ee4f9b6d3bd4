package budget

import (
	"testing"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/stretchr/testify/require"
)

var testPlans = map[string]int{
	"free": 5,
	"pro":  25,
	"max":  50,
}

func testModel(in, out float64) catwalk.Model {
	return catwalk.Model{ID: "test-model", CostPer1MIn: in, CostPer1MOut: out}
}

func TestAffordable_ZeroBalance(t *testing.T) {
	t.Parallel()
	g := NewGate(testPlans, 10)
	require.Equal(t, 0, g.Affordable("pro", testModel(3, 15), 0).MaxSteps)
	require.Equal(t, 0, g.Affordable("pro", testModel(3, 15), -4).MaxSteps)
}

func TestAffordable_AtLeastOneStepWithPositiveBalance(t *testing.T) {
	t.Parallel()
	g := NewGate(testPlans, 10)
	b := g.Affordable("pro", testModel(3, 15), 0.0001)
	require.Equal(t, 1, b.MaxSteps)
}

func TestAffordable_PlanCeilingCapsUnlimitedBalance(t *testing.T) {
	t.Parallel()
	g := NewGate(testPlans, 10)
	require.Equal(t, 5, g.Affordable("free", testModel(3, 15), 1e12).MaxSteps)
	require.Equal(t, 25, g.Affordable("pro", testModel(3, 15), 1e12).MaxSteps)
	require.Equal(t, 10, g.Affordable("unknown-plan", testModel(3, 15), 1e12).MaxSteps)
}

func TestAffordable_MonotonicInBalance(t *testing.T) {
	t.Parallel()
	g := NewGate(testPlans, 10)
	model := testModel(3, 15)
	prev := 0
	for _, balance := range []float64{0, 0.5, 1, 2, 5, 10, 100, 1000} {
		steps := g.Affordable("max", model, balance).MaxSteps
		require.GreaterOrEqual(t, steps, prev, "balance %v", balance)
		prev = steps
	}
}

func TestAffordable_AntiMonotonicInPrice(t *testing.T) {
	t.Parallel()
	g := NewGate(testPlans, 10)
	prev := int(1 << 30)
	for _, price := range []float64{0.5, 1, 3, 10, 30, 100} {
		steps := g.Affordable("max", testModel(price, price*5), 10).MaxSteps
		require.LessOrEqual(t, steps, prev, "price %v", price)
		prev = steps
	}
}

func TestAffordable_TotalIsStepsTimesCost(t *testing.T) {
	t.Parallel()
	g := NewGate(testPlans, 10)
	b := g.Affordable("pro", testModel(3, 15), 50)
	require.InDelta(t, float64(b.MaxSteps)*b.EstimatedCostPerStep, b.TotalEstimatedCost, 1e-9)
	require.LessOrEqual(t, b.TotalEstimatedCost, 50.0)
}

func TestTokenCost(t *testing.T) {
	t.Parallel()
	// 1M input at $3 and 1M output at $15 is $18, so 1800 credits.
	cost := TokenCost(testModel(3, 15), 1_000_000, 1_000_000)
	require.InDelta(t, 1800, cost, 1e-9)
}
