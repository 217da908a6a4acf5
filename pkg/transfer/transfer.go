// Package transfer evaluates a sink's boolean condition expression
// against the current iteration state, rejecting any token outside
// the fixed vocabulary before the expression ever reaches the
// evaluator.
package transfer

import (
	"fmt"
	"regexp"

	govaluate "gopkg.in/Knetic/govaluate.v3"
)

// IterationState is the iteration-state view a condition expression
// is evaluated against. CurIter is always the post-increment value.
type IterationState struct {
	CurIter    int
	MaxRep     int
	MaxRepInf  bool
	StopMarker bool
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_]+`)

var knownTokens = map[string]bool{
	"all":                    true,
	"never":                  true,
	"last_iteration":         true,
	"all_but_last_iteration": true,
	"stop_iteration":         true,
	"and":                    true,
	"or":                     true,
	"not":                    true,
}

// Evaluate substitutes the five named tokens in expr with the boolean
// literals computed from state, translates and/or/not to the
// evaluator's operator syntax, and evaluates the result. Any
// identifier outside the fixed vocabulary is rejected before
// evaluation.
func Evaluate(expr string, state IterationState) (bool, error) {
	var lastIteration, allButLastIteration bool
	if state.MaxRepInf {
		lastIteration = false
		allButLastIteration = true
	} else {
		lastIteration = state.CurIter == state.MaxRep
		allButLastIteration = state.CurIter < state.MaxRep
	}

	var badToken string
	substituted := identifierPattern.ReplaceAllStringFunc(expr, func(token string) string {
		if !knownTokens[token] {
			if badToken == "" {
				badToken = token
			}
			return token
		}
		switch token {
		case "all":
			return "true"
		case "never":
			return "false"
		case "last_iteration":
			return boolLiteral(lastIteration)
		case "all_but_last_iteration":
			return boolLiteral(allButLastIteration)
		case "stop_iteration":
			return boolLiteral(state.StopMarker)
		case "and":
			return "&&"
		case "or":
			return "||"
		case "not":
			return "!"
		}
		return token
	})
	if badToken != "" {
		return false, fmt.Errorf("unknown token %q in transfer condition %q", badToken, expr)
	}

	evaluable, err := govaluate.NewEvaluableExpression(substituted)
	if err != nil {
		return false, fmt.Errorf("parse transfer condition %q: %w", expr, err)
	}
	result, err := evaluable.Evaluate(nil)
	if err != nil {
		return false, fmt.Errorf("evaluate transfer condition %q: %w", expr, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("transfer condition %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

func boolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
