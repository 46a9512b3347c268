// Package chain executes workflows of tool calls with variable substitution
// and DAG validation: a step may only reference results of earlier steps, so
// forward references and cycles are rejected before anything runs.
package chain

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chameleon/internal/host"
)

// DAGViolationError reports a chain whose references do not form a DAG.
type DAGViolationError struct {
	Message string
}

func (e *DAGViolationError) Error() string { return e.Message }

// Step is one unit of a chain: run a tool with arguments that may reference
// earlier results via ${id} or ${id.path}.
type Step struct {
	ID   string
	Tool string
	Args map[string]interface{}
}

// refPattern matches ${id} and ${id.path}; group 1 is the step id.
var refPattern = regexp.MustCompile(`\$\{([^.}]+)(?:\.[^}]+)?\}`)

// fullRefPattern matches the full reference including the path.
var fullRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ParseSteps converts the raw tool argument into validated steps.
func ParseSteps(raw interface{}) ([]Step, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("'steps' must be a list")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no steps provided in chain")
	}

	steps := make([]Step, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("step %d is not an object", i)
		}
		id, _ := m["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("step %d missing required field 'id'", i)
		}
		tool, _ := m["tool"].(string)
		if tool == "" {
			return nil, fmt.Errorf("step %d (id=%q) missing required field 'tool'", i, id)
		}
		args, ok := m["args"].(map[string]interface{})
		if !ok {
			if m["args"] == nil {
				return nil, fmt.Errorf("step %d (id=%q) missing required field 'args'", i, id)
			}
			return nil, fmt.Errorf("step %d (id=%q) has non-object 'args'", i, id)
		}
		steps = append(steps, Step{ID: id, Tool: tool, Args: args})
	}
	return steps, nil
}

// ValidateDAG checks for duplicate ids and forward references.
func ValidateDAG(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	for i, step := range steps {
		if seen[step.ID] {
			return &DAGViolationError{Message: fmt.Sprintf("duplicate step id %q at position %d", step.ID, i+1)}
		}
		for _, ref := range extractRefs(step.Args) {
			if !seen[ref] {
				return &DAGViolationError{Message: fmt.Sprintf(
					"step %d (id=%q) references future/unknown step %q; only earlier steps can be referenced",
					i+1, step.ID, ref)}
			}
		}
		seen[step.ID] = true
	}
	return nil
}

func extractRefs(v interface{}) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		for _, m := range refPattern.FindAllStringSubmatch(val, -1) {
			refs = append(refs, m[1])
		}
	case map[string]interface{}:
		for _, item := range val {
			refs = append(refs, extractRefs(item)...)
		}
	case []interface{}:
		for _, item := range val {
			refs = append(refs, extractRefs(item)...)
		}
	}
	return refs
}

// StepResult describes one executed step in a report.
type StepResult struct {
	Step   int         `json:"step"`
	ID     string      `json:"id"`
	Tool   string      `json:"tool"`
	Status string      `json:"status"`
	Result interface{} `json:"result"`
}

// Run executes a validated chain sequentially. All steps succeeding yields a
// success report plus the final state keyed by step id. A failing step stops
// the chain; the completed steps are NOT rolled back and the returned report
// says exactly how far execution got.
func Run(ctx context.Context, steps []Step, exec host.Executor) (map[string]interface{}, error) {
	if err := ValidateDAG(steps); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("chain runner has no executor")
	}

	state := make(map[string]interface{}, len(steps))
	var executed []StepResult

	for i, step := range steps {
		resolved := resolve(step.Args, state).(map[string]interface{})
		result, err := exec.Execute(ctx, step.Tool, resolved)
		if err != nil {
			return failureReport(i+1, step, err, executed, len(steps)), nil
		}
		state[step.ID] = result
		executed = append(executed, StepResult{
			Step: i + 1, ID: step.ID, Tool: step.Tool, Status: "SUCCESS", Result: result,
		})
	}

	return map[string]interface{}{
		"status":         "completed",
		"total_steps":    len(steps),
		"executed_steps": stepResults(executed),
		"state":          state,
	}, nil
}

// resolve substitutes ${id} and ${id.path} references inside strings,
// recursing through maps and lists. Substitution is textual: referenced
// values are stringified into place.
func resolve(v interface{}, state map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return fullRefPattern.ReplaceAllStringFunc(val, func(match string) string {
			ref := match[2 : len(match)-1]
			return lookupRef(ref, state)
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = resolve(item, state)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolve(item, state)
		}
		return out
	default:
		return v
	}
}

// lookupRef navigates a dotted reference through the chain state. Failures
// resolve to an inline error marker rather than aborting the step.
func lookupRef(ref string, state map[string]interface{}) string {
	parts := strings.Split(ref, ".")
	value, ok := state[parts[0]]
	if !ok {
		return fmt.Sprintf("<ERROR: step '%s' not found>", parts[0])
	}
	for _, part := range parts[1:] {
		switch cur := value.(type) {
		case map[string]interface{}:
			v, ok := cur[part]
			if !ok {
				return fmt.Sprintf("<ERROR: key '%s' not found>", part)
			}
			value = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return fmt.Sprintf("<ERROR: cannot index list with '%s'>", part)
			}
			if idx < 0 || idx >= len(cur) {
				return fmt.Sprintf("<ERROR: index %d out of range>", idx)
			}
			value = cur[idx]
		default:
			return fmt.Sprintf("<ERROR: cannot access '%s' on %T>", part, cur)
		}
	}
	return fmt.Sprintf("%v", value)
}

const reportResultLimit = 100

func failureReport(failedStep int, step Step, err error, executed []StepResult, total int) map[string]interface{} {
	return map[string]interface{}{
		"status":          "error",
		"failed_step":     failedStep,
		"failed_step_id":  step.ID,
		"failed_tool":     step.Tool,
		"error":           err.Error(),
		"total_steps":     total,
		"executed_steps":  stepResults(executed),
		"completed_count": len(executed),
		"suggestion": fmt.Sprintf(
			"Fix the '%s' tool call or its arguments and try again. The first %d step(s) completed successfully and were not rolled back.",
			step.Tool, len(executed)),
	}
}

// stepResults converts step records to plain maps, truncating long results
// so reports stay readable.
func stepResults(executed []StepResult) []interface{} {
	out := make([]interface{}, len(executed))
	for i, s := range executed {
		result := fmt.Sprintf("%v", s.Result)
		if len(result) > reportResultLimit {
			result = result[:reportResultLimit] + "..."
		}
		out[i] = map[string]interface{}{
			"step":   s.Step,
			"id":     s.ID,
			"tool":   s.Tool,
			"status": s.Status,
			"result": result,
		}
	}
	return out
}
