package fiscal_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fiscal-engine/fiscal"
)

func intPtr(v int) *int { return &v }

func newMatcher(t *testing.T, rules ...fiscal.ExemptionRule) *fiscal.ExemptionMatcher {
	t.Helper()
	m, err := fiscal.NewExemptionMatcher(map[fiscal.Section][]fiscal.ExemptionRule{
		fiscal.SectionTIB: rules,
	})
	require.NoError(t, err)
	return m
}

func TestExemptionMatcher_CaseInsensitiveSetMembership(t *testing.T) {
	m := newMatcher(t, fiscal.ExemptionRule{
		Name:       "public_buildings",
		Conditions: fiscal.ExemptionConditions{AffectationIn: []string{"Public", "Cultuel"}},
	})

	rule := m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{Affectation: "PUBLIC"}, 2025)
	require.NotNil(t, rule)
	assert.Equal(t, "public_buildings", rule.Name)
	assert.Equal(t, "public_buildings", rule.DisplayReason())

	assert.Nil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{Affectation: "residentiel"}, 2025))
	assert.Nil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{}, 2025))
}

func TestExemptionMatcher_ConditionsAreAnded(t *testing.T) {
	// GIVEN: social housing built within the last five years
	m := newMatcher(t, fiscal.ExemptionRule{
		Name:   "new_social_housing",
		Reason: "Logement social neuf",
		Conditions: fiscal.ExemptionConditions{
			AffectationIn: []string{"social"},
			MaxAgeYears:   intPtr(5),
		},
	})

	tests := []struct {
		name  string
		ctx   fiscal.ExemptionContext
		match bool
	}{
		{"both hold", fiscal.ExemptionContext{Affectation: "social", ConstructionYear: 2020}, true},
		{"too old", fiscal.ExemptionContext{Affectation: "social", ConstructionYear: 2019}, false},
		{"wrong affectation", fiscal.ExemptionContext{Affectation: "commercial", ConstructionYear: 2024}, false},
		{"unknown construction year", fiscal.ExemptionContext{Affectation: "social"}, false},
		{"built in the future", fiscal.ExemptionContext{Affectation: "social", ConstructionYear: 2027}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := m.Match(fiscal.SectionTIB, tt.ctx, 2025)
			if tt.match {
				require.NotNil(t, rule)
				assert.Equal(t, "Logement social neuf", rule.DisplayReason())
			} else {
				assert.Nil(t, rule)
			}
		})
	}
}

func TestExemptionMatcher_FirstMatchWins(t *testing.T) {
	m := newMatcher(t,
		fiscal.ExemptionRule{Name: "first", Conditions: fiscal.ExemptionConditions{ExemptionReasonIn: []string{"diplomatic"}}},
		fiscal.ExemptionRule{Name: "catch_all"},
	)

	rule := m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{ExemptionReason: "Diplomatic"}, 2025)
	require.NotNil(t, rule)
	assert.Equal(t, "first", rule.Name)

	// An empty rule matches everything.
	rule = m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{}, 2025)
	require.NotNil(t, rule)
	assert.Equal(t, "catch_all", rule.Name)
	assert.Len(t, m.Rules(fiscal.SectionTIB), 2)
}

func TestExemptionMatcher_SectionsAreIndependent(t *testing.T) {
	m := newMatcher(t, fiscal.ExemptionRule{Name: "any"})
	assert.Nil(t, m.Match(fiscal.SectionTTNB, fiscal.ExemptionContext{}, 2025))
	assert.Empty(t, m.Rules(fiscal.SectionTTNB))
}

func TestExemptionMatcher_MatchReturnsCopy(t *testing.T) {
	m := newMatcher(t, fiscal.ExemptionRule{Name: "any"})
	rule := m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{}, 2025)
	require.NotNil(t, rule)
	rule.Name = "changed"

	assert.Equal(t, "any", m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{}, 2025).Name)
}

// =============================================================================
// CEL EXPRESSIONS
// =============================================================================

func TestExemptionMatcher_Expression(t *testing.T) {
	m := newMatcher(t, fiscal.ExemptionRule{
		Name: "small_places_of_worship",
		Conditions: fiscal.ExemptionConditions{
			Expression: `affectation == "cultuel" && surface < 500.0`,
		},
	})

	hit := fiscal.ExemptionContext{Affectation: "Cultuel", Surface: dec("320")}
	miss := fiscal.ExemptionContext{Affectation: "cultuel", Surface: dec("800")}

	assert.NotNil(t, m.Match(fiscal.SectionTIB, hit, 2025))
	assert.Nil(t, m.Match(fiscal.SectionTIB, miss, 2025))
}

func TestExemptionMatcher_ExpressionCombinedWithSets(t *testing.T) {
	m := newMatcher(t, fiscal.ExemptionRule{
		Name: "old_agricultural",
		Conditions: fiscal.ExemptionConditions{
			LandTypeIn: []string{"agricole"},
			Expression: `age_years >= 10`,
		},
	})

	assert.NotNil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{LandType: "agricole", ConstructionYear: 2000}, 2025))
	assert.Nil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{LandType: "agricole", ConstructionYear: 2020}, 2025))
	assert.Nil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{LandType: "urbain", ConstructionYear: 2000}, 2025))
}

func TestExemptionMatcher_EvaluationErrorIsNoMatch(t *testing.T) {
	// GIVEN: an expression that divides by zero when the year is unknown
	m := newMatcher(t, fiscal.ExemptionRule{
		Name:       "fragile",
		Conditions: fiscal.ExemptionConditions{Expression: `1 / (age_years + 1) >= 0`},
	})

	// THEN: known year evaluates, unknown year fails evaluation and does not match
	assert.NotNil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{ConstructionYear: 2020}, 2025))
	assert.Nil(t, m.Match(fiscal.SectionTIB, fiscal.ExemptionContext{}, 2025))
}

func TestNewExemptionMatcher_RejectsBadExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `affectation ==`},
		{"unknown variable", `owner == "state"`},
		{"not boolean", `surface * 2.0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fiscal.NewExemptionMatcher(map[fiscal.Section][]fiscal.ExemptionRule{
				fiscal.SectionTTNB: {{Name: "ok"}, {Name: "bad", Conditions: fiscal.ExemptionConditions{Expression: tt.expr}}},
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, fiscal.ErrInvalidTariffTable))

			var tariffErr *fiscal.TariffError
			require.True(t, errors.As(err, &tariffErr))
			assert.Equal(t, fiscal.SectionTTNB, tariffErr.Section)
			assert.Equal(t, "exemptions[1].conditions.expression", tariffErr.Field)
		})
	}
}

func TestExemptionConditions_IsEmpty(t *testing.T) {
	assert.True(t, fiscal.ExemptionConditions{}.IsEmpty())
	assert.True(t, fiscal.ExemptionConditions{Expression: "  "}.IsEmpty())
	assert.False(t, fiscal.ExemptionConditions{MaxAgeYears: intPtr(0)}.IsEmpty())
}
