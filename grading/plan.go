/*
Package grading validates evaluation plans.

PURPOSE:
  A subject's evaluation plan splits the grade across evaluations (exams,
  projects, participation). The plan is usable only when every evaluation
  carries a positive weight, names are unique, and weights add up to exactly
  100%. Weights are decimals so "33.34 + 33.33 + 33.33" is exact.

SEE ALSO:
  - api/handlers.go: POST /api/evaluaciones/validar
*/
package grading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidPlan = errors.New("invalid evaluation plan")

var hundred = decimal.NewFromInt(100)

type Evaluation struct {
	Name    string
	Percent decimal.Decimal
}

type Plan struct {
	Subject     string
	Evaluations []Evaluation
}

// PlanError lists every problem found in a plan.
type PlanError struct {
	Problems []string
	Total    decimal.Decimal
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("invalid evaluation plan (total %s%%): %s", e.Total.String(), strings.Join(e.Problems, "; "))
}

func (e *PlanError) Unwrap() error { return ErrInvalidPlan }

// Total returns the sum of the plan's percentages.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range p.Evaluations {
		total = total.Add(ev.Percent)
	}
	return total
}

// Remaining returns the percentage still unassigned; negative when over 100.
func (p Plan) Remaining() decimal.Decimal {
	return hundred.Sub(p.Total())
}

// ValidatePlan returns a *PlanError when the plan cannot be used for grading.
func ValidatePlan(p Plan) error {
	var problems []string
	if len(p.Evaluations) == 0 {
		problems = append(problems, "plan has no evaluations")
	}

	seen := make(map[string]bool, len(p.Evaluations))
	for i, ev := range p.Evaluations {
		name := strings.TrimSpace(ev.Name)
		switch {
		case name == "":
			problems = append(problems, fmt.Sprintf("evaluation %d has no name", i+1))
		case seen[strings.ToLower(name)]:
			problems = append(problems, fmt.Sprintf("evaluation %q listed twice", name))
		}
		seen[strings.ToLower(name)] = true

		if !ev.Percent.IsPositive() {
			problems = append(problems, fmt.Sprintf("evaluation %q must weigh more than 0%%", name))
		}
	}

	total := p.Total()
	if len(p.Evaluations) > 0 && !total.Equal(hundred) {
		problems = append(problems, fmt.Sprintf("percentages sum to %s%%, expected 100%%", total.String()))
	}

	if len(problems) > 0 {
		return &PlanError{Problems: problems, Total: total}
	}
	return nil
}
