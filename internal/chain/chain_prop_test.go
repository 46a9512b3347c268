package chain

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// echoExecutor returns the "v" argument as the step result.
type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, _ string, args map[string]interface{}) (interface{}, error) {
	return args["v"], nil
}

// Chains where every step echoes the previous step's value always validate
// and always thread the seed value through to the last step.
func TestEchoChainsCompose(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60

	properties := gopter.NewProperties(params)
	properties.Property("linear echo chain runs to completion", prop.ForAll(
		func(n int, seed string) bool {
			steps := make([]Step, n)
			for i := range steps {
				v := seed
				if i > 0 {
					v = fmt.Sprintf("${s%d}", i-1)
				}
				steps[i] = Step{
					ID:   fmt.Sprintf("s%d", i),
					Tool: "echo",
					Args: map[string]interface{}{"v": v},
				}
			}
			if err := ValidateDAG(steps); err != nil {
				return false
			}
			report, err := Run(context.Background(), steps, echoExecutor{})
			if err != nil {
				return false
			}
			if report["status"] != "completed" {
				return false
			}
			state := report["state"].(map[string]interface{})
			return state[fmt.Sprintf("s%d", n-1)] == seed
		},
		gen.IntRange(1, 8),
		gen.Identifier(),
	))

	// Reversing any chain of length >= 2 makes the first step reference a
	// later one, which must be refused before execution.
	properties.Property("reversed chains violate the DAG", prop.ForAll(
		func(n int) bool {
			steps := make([]Step, n)
			for i := range steps {
				steps[i] = Step{
					ID:   fmt.Sprintf("s%d", n-1-i),
					Tool: "echo",
					Args: map[string]interface{}{"v": fmt.Sprintf("${s%d}", n-i)},
				}
			}
			err := ValidateDAG(steps)
			_, ok := err.(*DAGViolationError)
			return ok
		},
		gen.IntRange(2, 8),
	))

	properties.TestingRun(t)
}
