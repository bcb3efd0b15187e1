package scoring

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/esg-compliance-api/internal/models"
)

// Mandatory section headers, in required order.
const (
	SectionOverallScore    = "Overall Score"
	SectionPillars         = "ESG Pillar Assessment"
	SectionRecommendations = "Recommendations"
	SectionGaps            = "Compliance Gaps"
)

var sectionOrder = []string{SectionOverallScore, SectionPillars, SectionRecommendations, SectionGaps}

const (
	DefaultMinRecommendations = 5
	DefaultMinGaps            = 4
	requiredPillars           = 3
)

const bulletPrefix = `^\s*(?:[-*•–+]|\d+[.)])\s+`
const dashSep = `\s+[-–—]\s+`

var (
	headerNumbering = regexp.MustCompile(`^(?:\d+|[ivx]+)[.)]\s*`)
	headerValue     = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	scoreToken      = regexp.MustCompile(`(?i)\bscore\s*\**\s*[:=]\s*\**\s*(-?\d+(?:\.\d+)?)`)
	bandPhrase      = regexp.MustCompile(`(?i)\b(?:overall\s+score\s+(?:of|is)|score\s+is)\s+\**\s*(-?\d+(?:\.\d+)?)`)
	pillarLine      = regexp.MustCompile(`(?i)^\s*(?:(?:[-*•–+]|\d+[.)])\s+)?\*\*\s*(environmental|social|governance)\s*:?\s*\*\*\s*:?\s*(.*)$`)
	labelled        = regexp.MustCompile(bulletPrefix + `\*\*\s*(.+?)\s*\*\*\s*:?\s*(.+)$`)
	recommendation  = regexp.MustCompile(`(?i)^(.+?)` + dashSep + `(.+?)\s*\(\s*timeline\s*:\s*(.+?)\s*,\s*cost\s*:\s*([^)]+?)\s*\)\s*\.?\s*$`)
	gap             = regexp.MustCompile(`(?i)^(.+?)` + dashSep + `(low|medium|high|critical)` + dashSep + `(.+?)` + dashSep + `(.+?)\s*\.?\s*$`)
)

// Extractor parses completions into validated analysis results.
type Extractor struct {
	minRecommendations int
	minGaps            int
}

// NewExtractor returns an extractor with the default item minimums.
func NewExtractor() *Extractor {
	return &Extractor{minRecommendations: DefaultMinRecommendations, minGaps: DefaultMinGaps}
}

// Extract validates raw and returns the structured result. It never defaults
// or clamps the score.
func (e *Extractor) Extract(raw string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ExtractionError{Kind: KindEmptyResponse}
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	sections, inlineScore, err := splitSections(lines)
	if err != nil {
		return nil, err
	}

	score, err := parseScore(inlineScore, sections[SectionOverallScore], raw)
	if err != nil {
		return nil, err
	}

	findings, err := parseFindings(sections[SectionPillars])
	if err != nil {
		return nil, err
	}

	recs := parseRecommendations(sections[SectionRecommendations])
	if len(recs) < e.minRecommendations {
		return nil, &ExtractionError{Kind: KindInsufficientItems, Section: SectionRecommendations, Found: len(recs), Required: e.minRecommendations}
	}

	gaps := parseGaps(sections[SectionGaps])
	if len(gaps) < e.minGaps {
		return nil, &ExtractionError{Kind: KindInsufficientItems, Section: SectionGaps, Found: len(gaps), Required: e.minGaps}
	}

	return &models.AnalysisResult{
		Score:           score,
		Findings:        findings,
		Recommendations: recs,
		Gaps:            gaps,
	}, nil
}

// splitSections finds each header after the previous one and returns the
// lines between consecutive headers, plus any score written on the Overall
// Score header line itself.
func splitSections(lines []string) (map[string][]string, string, error) {
	starts := make([]int, len(sectionOrder))
	var inlineScore string
	from := 0
	for i, name := range sectionOrder {
		idx := -1
		for j := from; j < len(lines); j++ {
			ok, value := matchHeader(lines[j], name)
			if ok {
				idx = j
				if name == SectionOverallScore {
					inlineScore = value
				}
				break
			}
		}
		if idx < 0 {
			return nil, "", &ExtractionError{Kind: KindMissingSection, Section: name}
		}
		starts[i] = idx
		from = idx + 1
	}

	out := make(map[string][]string, len(sectionOrder))
	for i, name := range sectionOrder {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		out[name] = lines[starts[i]+1 : end]
	}
	return out, inlineScore, nil
}

// matchHeader tolerates markdown hashes, bold or italics, numbering, trailing
// colons and case drift. The Overall Score header may also carry its value,
// as in "## Overall Score: 0.72", which is returned as value.
func matchHeader(line, name string) (ok bool, value string) {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_")
	s = strings.TrimSpace(s)
	s = headerNumbering.ReplaceAllString(strings.ToLower(s), "")
	s = strings.Trim(s, "*_ ")
	s = strings.Join(strings.Fields(s), " ")

	want := strings.ToLower(name)
	if !strings.HasPrefix(s, want) {
		return false, ""
	}
	tail := strings.TrimLeft(s[len(want):], ":=*_ ")
	tail = strings.TrimRight(tail, "*_ ")
	if tail == "" {
		return true, ""
	}
	if name == SectionOverallScore && headerValue.MatchString(tail) {
		return true, tail
	}
	return false, ""
}

// parseScore prefers the header value, then the score section, and only then
// the whole response. Within each scope an explicit score token wins over a
// phrase such as "overall score of 0.72".
func parseScore(inline string, section []string, raw string) (float64, error) {
	if inline != "" {
		return scoreInRange(inline)
	}
	body := strings.Join(section, "\n")
	for _, candidate := range []struct {
		re   *regexp.Regexp
		text string
	}{
		{scoreToken, body},
		{bandPhrase, body},
		{scoreToken, raw},
		{bandPhrase, raw},
	} {
		m := candidate.re.FindStringSubmatch(candidate.text)
		if m == nil {
			continue
		}
		return scoreInRange(m[1])
	}
	return 0, &ExtractionError{Kind: KindMissingScore, Section: SectionOverallScore}
}

func scoreInRange(token string) (float64, error) {
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, &ExtractionError{Kind: KindMissingScore, Section: SectionOverallScore}
	}
	if v < 0 || v > 1 {
		return 0, &ExtractionError{Kind: KindOutOfRange, Section: SectionOverallScore, Value: v}
	}
	return v, nil
}

func parseFindings(section []string) (models.Findings, error) {
	var f models.Findings
	var summary []string
	var current *string
	found := map[string]bool{}

	for _, line := range section {
		if m := pillarLine.FindStringSubmatch(line); m != nil {
			pillar := strings.ToLower(m[1])
			switch pillar {
			case "environmental":
				current = &f.Environmental
			case "social":
				current = &f.Social
			default:
				current = &f.Governance
			}
			*current = strings.TrimSpace(m[2])
			found[pillar] = true
			continue
		}
		text := strings.TrimSpace(line)
		if text == "" {
			current = nil
			continue
		}
		if current != nil {
			*current = strings.TrimSpace(*current + " " + text)
			continue
		}
		if len(found) == 0 {
			summary = append(summary, text)
		}
	}

	if len(found) < requiredPillars {
		return f, &ExtractionError{Kind: KindInsufficientItems, Section: SectionPillars, Found: len(found), Required: requiredPillars}
	}
	f.Summary = strings.Join(summary, " ")
	return f, nil
}

func parseRecommendations(section []string) []models.Recommendation {
	var out []models.Recommendation
	for _, line := range section {
		label, rest, ok := splitLabelled(line)
		if !ok {
			continue
		}
		m := recommendation.FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		out = append(out, models.Recommendation{
			Label:    label,
			Action:   strings.TrimSpace(m[1]),
			Outcome:  strings.TrimSpace(m[2]),
			Timeline: strings.TrimSpace(m[3]),
			Cost:     strings.TrimSpace(m[4]),
		})
	}
	return out
}

func parseGaps(section []string) []models.Gap {
	var out []models.Gap
	for _, line := range section {
		label, rest, ok := splitLabelled(line)
		if !ok {
			continue
		}
		m := gap.FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		out = append(out, models.Gap{
			Category:    label,
			Description: strings.TrimSpace(m[1]),
			RiskLevel:   models.RiskLevel(strings.ToUpper(m[2])),
			Citation:    strings.TrimSpace(m[3]),
			Exposure:    strings.TrimSpace(m[4]),
		})
	}
	return out
}

func splitLabelled(line string) (label, rest string, ok bool) {
	m := labelled.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	label = strings.TrimSpace(strings.TrimRight(m[1], ":"))
	if label == "" {
		return "", "", false
	}
	return label, strings.TrimSpace(m[2]), true
}
