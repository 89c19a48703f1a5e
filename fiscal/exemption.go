package fiscal

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EXEMPTION RULES
// =============================================================================

// ExemptionConditions are AND-ed: a rule matches only if every condition that
// is present holds. Set membership is case-insensitive.
type ExemptionConditions struct {
	AffectationIn     []string
	LandTypeIn        []string
	ExemptionReasonIn []string
	MaxAgeYears       *int

	// Expression is an optional boolean CEL expression over affectation,
	// land_type, exemption_reason (lowercased strings), construction_year and
	// age_years (ints, 0 and -1 when unknown) and surface (double).
	Expression string
}

func (c ExemptionConditions) IsEmpty() bool {
	return len(c.AffectationIn) == 0 &&
		len(c.LandTypeIn) == 0 &&
		len(c.ExemptionReasonIn) == 0 &&
		c.MaxAgeYears == nil &&
		strings.TrimSpace(c.Expression) == ""
}

type ExemptionRule struct {
	Name       string
	Reason     string
	Conditions ExemptionConditions
}

// DisplayReason is what an exempt result reports.
func (r ExemptionRule) DisplayReason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Name
}

// ExemptionContext is the asset view the matcher reads. Zero values mean
// "absent" for every field.
type ExemptionContext struct {
	Affectation      string
	LandType         string
	ExemptionReason  string
	ConstructionYear int
	Surface          decimal.Decimal
}

// =============================================================================
// MATCHER
// =============================================================================

type compiledRule struct {
	rule    ExemptionRule
	program cel.Program
}

// ExemptionMatcher evaluates rules per section in declared order.
// It is immutable after construction and safe for concurrent use.
type ExemptionMatcher struct {
	rules map[Section][]compiledRule
}

func newExemptionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("affectation", cel.StringType),
		cel.Variable("land_type", cel.StringType),
		cel.Variable("exemption_reason", cel.StringType),
		cel.Variable("construction_year", cel.IntType),
		cel.Variable("age_years", cel.IntType),
		cel.Variable("surface", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewExemptionMatcher compiles every rule expression up front.
func NewExemptionMatcher(rules map[Section][]ExemptionRule) (*ExemptionMatcher, error) {
	env, err := newExemptionEnv()
	if err != nil {
		return nil, err
	}

	m := &ExemptionMatcher{rules: make(map[Section][]compiledRule, len(rules))}
	for section, list := range rules {
		compiled := make([]compiledRule, 0, len(list))
		for i, rule := range list {
			cr := compiledRule{rule: rule}
			if expr := strings.TrimSpace(rule.Conditions.Expression); expr != "" {
				program, err := compileExpression(env, expr)
				if err != nil {
					return nil, &TariffError{
						Section: section,
						Field:   fmt.Sprintf("exemptions[%d].conditions.expression", i),
						Reason:  err.Error(),
					}
				}
				cr.program = program
			}
			compiled = append(compiled, cr)
		}
		m.rules[section] = compiled
	}
	return m, nil
}

func compileExpression(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// Match returns the first rule of the section that matches ctx, or nil.
// currentYear drives the max_age_years condition.
func (m *ExemptionMatcher) Match(section Section, ctx ExemptionContext, currentYear int) *ExemptionRule {
	if m == nil {
		return nil
	}
	for _, cr := range m.rules[section] {
		if cr.matches(ctx, currentYear) {
			rule := cr.rule
			return &rule
		}
	}
	return nil
}

// Rules returns the declared rules of a section.
func (m *ExemptionMatcher) Rules(section Section) []ExemptionRule {
	if m == nil {
		return nil
	}
	out := make([]ExemptionRule, 0, len(m.rules[section]))
	for _, cr := range m.rules[section] {
		out = append(out, cr.rule)
	}
	return out
}

func (cr compiledRule) matches(ctx ExemptionContext, currentYear int) bool {
	c := cr.rule.Conditions

	if len(c.AffectationIn) > 0 && !containsFold(c.AffectationIn, ctx.Affectation) {
		return false
	}
	if len(c.LandTypeIn) > 0 && !containsFold(c.LandTypeIn, ctx.LandType) {
		return false
	}
	if len(c.ExemptionReasonIn) > 0 && !containsFold(c.ExemptionReasonIn, ctx.ExemptionReason) {
		return false
	}
	if c.MaxAgeYears != nil {
		age, ok := YearsSince(ctx.ConstructionYear, currentYear)
		if !ok || age > *c.MaxAgeYears {
			return false
		}
	}
	if cr.program != nil {
		return cr.evaluate(ctx, currentYear)
	}
	return true
}

// evaluate treats any evaluation error as a non-match.
func (cr compiledRule) evaluate(ctx ExemptionContext, currentYear int) bool {
	age, ok := YearsSince(ctx.ConstructionYear, currentYear)
	if !ok {
		age = -1
	}
	constructionYear := ctx.ConstructionYear
	if constructionYear < 0 {
		constructionYear = 0
	}

	out, _, err := cr.program.Eval(map[string]any{
		"affectation":       strings.ToLower(ctx.Affectation),
		"land_type":         strings.ToLower(ctx.LandType),
		"exemption_reason":  strings.ToLower(ctx.ExemptionReason),
		"construction_year": int64(constructionYear),
		"age_years":         int64(age),
		"surface":           ctx.Surface.InexactFloat64(),
	})
	if err != nil {
		return false
	}
	matched, ok := out.(types.Bool)
	return ok && bool(matched)
}

// containsFold reports whether value is in set, ignoring case.
// An absent value never matches a non-empty set.
func containsFold(set []string, value string) bool {
	if value == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}
