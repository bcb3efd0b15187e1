package scoring

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esg-compliance-api/internal/models"
)

const wellFormed = `## Overall Score
Score: 0.72
The policy sets an overall score of 0.72 with clear targets.

## ESG Pillar Assessment
The document covers most disclosure areas.
**Environmental**: Scope 1 and 2 emissions are reported with a 2030 target.
**Social**: Workforce safety metrics are disclosed annually.
**Governance**: Board oversight of climate risk is described.

## Recommendations
- **Scope 3 inventory**: Map supplier emissions - complete value chain disclosure (Timeline: 6 months, Cost: Medium)
- **Target validation**: Submit targets for external validation - credible decarbonisation path (Timeline: 9 months, Cost: Low)
- **Safety training**: Extend training to contractors - fewer incidents (Timeline: 3 months, Cost: Low)
- **Board skills**: Add an ESG skills matrix - stronger oversight (Timeline: 12 months, Cost: Low)
- **Assurance**: Obtain limited assurance on KPIs - reliable figures (Timeline: 12 months, Cost: $40,000)

## Compliance Gaps
- **Emissions**: Scope 3 not disclosed - HIGH - CSRD ESRS E1-6 - Regulatory penalty exposure
- **Biodiversity**: No site assessment - MEDIUM - ESRS E4 - Permitting delays
- **Human rights**: Supplier due diligence missing - HIGH - CSDDD Art. 6 - Civil liability
- **Whistleblowing**: Channel not described - LOW - EU Directive 2019/1937 Art. 8 - Fines
`

func TestExtractWellFormed(t *testing.T) {
	res, err := NewExtractor().Extract(wellFormed)
	require.NoError(t, err)

	assert.InDelta(t, 0.72, res.Score, 1e-9)
	assert.Equal(t, "The document covers most disclosure areas.", res.Findings.Summary)
	assert.Contains(t, res.Findings.Environmental, "Scope 1 and 2")
	assert.Contains(t, res.Findings.Social, "safety")
	assert.Contains(t, res.Findings.Governance, "Board oversight")

	require.Len(t, res.Recommendations, 5)
	assert.Equal(t, models.Recommendation{
		Label:    "Scope 3 inventory",
		Action:   "Map supplier emissions",
		Outcome:  "complete value chain disclosure",
		Timeline: "6 months",
		Cost:     "Medium",
	}, res.Recommendations[0])
	assert.Equal(t, "$40,000", res.Recommendations[4].Cost)

	require.Len(t, res.Gaps, 4)
	assert.Equal(t, models.Gap{
		Category:    "Emissions",
		Description: "Scope 3 not disclosed",
		RiskLevel:   models.RiskHigh,
		Citation:    "CSRD ESRS E1-6",
		Exposure:    "Regulatory penalty exposure",
	}, res.Gaps[0])
	assert.Equal(t, models.RiskLow, res.Gaps[3].RiskLevel)
}

func TestExtractToleratesHeaderDrift(t *testing.T) {
	raw := strings.NewReplacer(
		"## Overall Score", "**1. OVERALL SCORE:**",
		"## ESG Pillar Assessment", "### esg pillar assessment",
		"## Recommendations", "Recommendations:",
		"## Compliance Gaps", "# 4) Compliance  Gaps",
	).Replace(wellFormed)

	res, err := NewExtractor().Extract(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.72, res.Score, 1e-9)
	assert.Len(t, res.Gaps, 4)
}

func TestExtractScoreFallbacks(t *testing.T) {
	withoutToken := strings.Replace(wellFormed, "Score: 0.72\n", "", 1)
	res, err := NewExtractor().Extract(withoutToken)
	require.NoError(t, err)
	assert.InDelta(t, 0.72, res.Score, 1e-9)

	bold := strings.Replace(wellFormed, "Score: 0.72", "**Score:** 0.65", 1)
	res, err = NewExtractor().Extract(bold)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, res.Score, 1e-9)
}

func TestExtractInlineHeaderScore(t *testing.T) {
	section := "## Overall Score\nScore: 0.72\nThe policy sets an overall score of 0.72 with clear targets.\n"
	for _, header := range []string{"## Overall Score: 0.81", "**Overall Score:** 0.81", "1. Overall Score = 0.81"} {
		t.Run(header, func(t *testing.T) {
			raw := strings.Replace(wellFormed, section, header+"\nThe policy sets clear targets.\n", 1)

			res, err := NewExtractor().Extract(raw)
			require.NoError(t, err)
			assert.InDelta(t, 0.81, res.Score, 1e-9)
		})
	}

	raw := strings.Replace(wellFormed, section, "## Overall Score: 8.1\n", 1)
	_, err := NewExtractor().Extract(raw)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestExtractPrefersScoreSectionPhrase(t *testing.T) {
	raw := strings.NewReplacer(
		"Score: 0.72\n", "",
		"Workforce safety metrics are disclosed annually.", "Workforce safety metrics are disclosed annually (supplier audit score: 6.1).",
	).Replace(wellFormed)

	res, err := NewExtractor().Extract(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.72, res.Score, 1e-9)
}

func TestExtractTimelineWithComma(t *testing.T) {
	raw := strings.Replace(wellFormed, "(Timeline: 9 months, Cost: Low)", "(Timeline: Q1, 2026, Cost: Low)", 1)

	res, err := NewExtractor().Extract(raw)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 5)
	assert.Equal(t, "Q1, 2026", res.Recommendations[1].Timeline)
	assert.Equal(t, "Low", res.Recommendations[1].Cost)
}

func TestExtractFailures(t *testing.T) {
	lines := strings.Split(wellFormed, "\n")
	dropLines := func(match string) string {
		var kept []string
		for _, l := range lines {
			if !strings.Contains(l, match) {
				kept = append(kept, l)
			}
		}
		return strings.Join(kept, "\n")
	}

	tests := []struct {
		name     string
		raw      string
		sentinel error
		check    func(t *testing.T, e *ExtractionError)
	}{
		{name: "empty", raw: "  \n\t", sentinel: ErrEmptyResponse},
		{
			name:     "missing gaps header",
			raw:      strings.Replace(wellFormed, "## Compliance Gaps", "Other notes", 1),
			sentinel: ErrMissingSection,
			check: func(t *testing.T, e *ExtractionError) {
				assert.Equal(t, SectionGaps, e.Section)
			},
		},
		{
			name: "headers out of order",
			raw: strings.NewReplacer(
				"## Recommendations", "## Compliance Gaps",
				"## Compliance Gaps", "## Recommendations",
			).Replace(wellFormed),
			sentinel: ErrMissingSection,
		},
		{
			name:     "score above range",
			raw:      strings.Replace(wellFormed, "Score: 0.72", "Score: 7.2", 1),
			sentinel: ErrOutOfRange,
			check: func(t *testing.T, e *ExtractionError) {
				assert.InDelta(t, 7.2, e.Value, 1e-9)
			},
		},
		{
			name:     "negative score",
			raw:      strings.Replace(wellFormed, "Score: 0.72", "Score: -0.1", 1),
			sentinel: ErrOutOfRange,
		},
		{
			name:     "no score",
			raw:      strings.NewReplacer("Score: 0.72", "Unscored", "overall score of 0.72", "no rating").Replace(wellFormed),
			sentinel: ErrMissingScore,
		},
		{
			name:     "missing pillar",
			raw:      dropLines("**Social**"),
			sentinel: ErrInsufficientItems,
			check: func(t *testing.T, e *ExtractionError) {
				assert.Equal(t, SectionPillars, e.Section)
				assert.Equal(t, 2, e.Found)
				assert.Equal(t, 3, e.Required)
			},
		},
		{
			name:     "four recommendations",
			raw:      dropLines("**Assurance**"),
			sentinel: ErrInsufficientItems,
			check: func(t *testing.T, e *ExtractionError) {
				assert.Equal(t, SectionRecommendations, e.Section)
				assert.Equal(t, 4, e.Found)
			},
		},
		{
			name:     "gap without risk level",
			raw:      strings.Replace(wellFormed, "- LOW -", "- minor -", 1),
			sentinel: ErrInsufficientItems,
			check: func(t *testing.T, e *ExtractionError) {
				assert.Equal(t, SectionGaps, e.Section)
				assert.Equal(t, 3, e.Found)
				assert.Equal(t, 4, e.Required)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := NewExtractor().Extract(tc.raw)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tc.sentinel), "got %v", err)

			var exErr *ExtractionError
			require.ErrorAs(t, err, &exErr)
			if tc.check != nil {
				tc.check(t, exErr)
			}
		})
	}
}

func TestExtractRecommendationBulletStyles(t *testing.T) {
	bullets := []string{"-", "*", "•", "–", "+", "1.", "2)"}
	for _, b := range bullets {
		t.Run(b, func(t *testing.T) {
			recs := parseRecommendations([]string{
				b + " **Label:** Do the thing - better outcome (Timeline: Q3, Cost: Low)",
			})
			require.Len(t, recs, 1)
			assert.Equal(t, "Label", recs[0].Label)
			assert.Equal(t, "Q3", recs[0].Timeline)
		})
	}
}

// Generated completions with random formatting drift must always parse to
// the score they were built with.
func TestExtractRandomisedDrift(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	headerStyles := []func(string) string{
		func(h string) string { return "## " + h },
		func(h string) string { return "**" + h + "**" },
		func(h string) string { return strings.ToUpper(h) + ":" },
		func(h string) string { return "### " + strings.ToLower(h) },
	}
	bullets := []string{"-", "*", "•", "1.", "+"}
	risks := []string{"low", "MEDIUM", "High", "CRITICAL"}

	for i := 0; i < 200; i++ {
		score := float64(rng.IntN(101)) / 100
		header := headerStyles[rng.IntN(len(headerStyles))]
		var b strings.Builder
		fmt.Fprintf(&b, "%s\nScore: %.2f\n\n", header(SectionOverallScore), score)
		fmt.Fprintf(&b, "%s\n**Environmental**: e\n**Social:** s\n**Governance**: g\n\n", header(SectionPillars))
		fmt.Fprintf(&b, "%s\n", header(SectionRecommendations))
		for r := 0; r < 5+rng.IntN(3); r++ {
			fmt.Fprintf(&b, "%s **R%d**: act - result (Timeline: %d months, Cost: Low)\n", bullets[rng.IntN(len(bullets))], r, r+1)
		}
		fmt.Fprintf(&b, "\n%s\n", header(SectionGaps))
		for g := 0; g < 4+rng.IntN(3); g++ {
			fmt.Fprintf(&b, "%s **G%d**: gap - %s - Ref %d - exposure\n", bullets[rng.IntN(len(bullets))], g, risks[rng.IntN(len(risks))], g)
		}

		res, err := NewExtractor().Extract(b.String())
		require.NoError(t, err, b.String())
		assert.InDelta(t, score, res.Score, 1e-9)
		assert.GreaterOrEqual(t, len(res.Recommendations), 5)
		assert.GreaterOrEqual(t, len(res.Gaps), 4)
	}
}
