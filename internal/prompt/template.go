package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Domain selects the specialist perspective of a template.
type Domain string

const (
	DomainLegal         Domain = "legal"
	DomainEnvironmental Domain = "environmental"
	DomainSocial        Domain = "social"
	DomainGovernance    Domain = "governance"
)

// Domains lists every supported domain.
var Domains = []Domain{DomainLegal, DomainEnvironmental, DomainSocial, DomainGovernance}

// DefaultMaxExcerptRunes bounds the document excerpt placed in a prompt.
const DefaultMaxExcerptRunes = 12000

const truncationMarker = "\n[... excerpt truncated ...]"

// Render conditions.
const (
	CondStrictFormat   = "strict_format"
	CondHasCategory    = "has_category"
	CondRequiredItem   = "required_item"
	CondHasDescription = "has_description"
)

var knownConditions = map[string]struct{}{
	CondStrictFormat:   {},
	CondHasCategory:    {},
	CondRequiredItem:   {},
	CondHasDescription: {},
}

var knownSlots = map[string]struct{}{
	"persona":         {},
	"domain":          {},
	"focus":           {},
	"checklist_title": {},
	"question":        {},
	"description":     {},
	"category":        {},
	"weight":          {},
	"document":        {},
}

var slotName = regexp.MustCompile(`^[a-z][a-z_]*$`)

// ChecklistContext describes the criterion being scored.
type ChecklistContext struct {
	ChecklistTitle string
	Question       string
	Description    string
	Category       string
	Weight         float64
	Required       bool
}

// RenderInput is everything a template needs to produce a prompt.
type RenderInput struct {
	DocumentExcerpt string
	Checklist       ChecklistContext
	Strict          bool
}

// SectionSpec is the declarative form of a template section.
type SectionSpec struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`
	Body string `yaml:"body"`
}

type segment struct {
	text string
	slot string
}

type section struct {
	name     string
	when     string
	segments []segment
}

// Template is a compiled prompt for one domain. Rendering cannot fail.
type Template struct {
	domain          Domain
	version         string
	persona         string
	focus           []string
	sections        []section
	maxExcerptRunes int
}

// Domain returns the template domain.
func (t *Template) Domain() Domain { return t.domain }

// Version returns the catalog and domain version, e.g. "2024.2/legal-3".
func (t *Template) Version() string { return t.version }

// SectionNames lists sections in render order.
func (t *Template) SectionNames() []string {
	names := make([]string, len(t.sections))
	for i, s := range t.sections {
		names[i] = s.name
	}
	return names
}

// Compile validates specs and builds a template. Unknown slots or conditions
// and unterminated placeholders are rejected.
func Compile(domain Domain, version, persona string, focus []string, specs []SectionSpec, maxExcerptRunes int) (*Template, error) {
	if domain == "" {
		return nil, fmt.Errorf("template domain required")
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("template %s has no sections", domain)
	}
	if maxExcerptRunes <= 0 {
		maxExcerptRunes = DefaultMaxExcerptRunes
	}

	seen := make(map[string]struct{}, len(specs))
	sections := make([]section, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("template %s: section without name", domain)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("template %s: duplicate section %q", domain, name)
		}
		seen[name] = struct{}{}

		when := strings.TrimSpace(spec.When)
		if when != "" {
			if _, ok := knownConditions[when]; !ok {
				return nil, fmt.Errorf("template %s: section %q has unknown condition %q", domain, name, when)
			}
		}
		segments, err := parseBody(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s: section %q: %w", domain, name, err)
		}
		sections = append(sections, section{name: name, when: when, segments: segments})
	}

	return &Template{
		domain:          domain,
		version:         version,
		persona:         strings.TrimSpace(persona),
		focus:           focus,
		sections:        sections,
		maxExcerptRunes: maxExcerptRunes,
	}, nil
}

func parseBody(body string) ([]segment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty body")
	}
	var segments []segment
	for body != "" {
		open := strings.Index(body, "{{")
		if open < 0 {
			segments = append(segments, segment{text: body})
			break
		}
		if open > 0 {
			segments = append(segments, segment{text: body[:open]})
		}
		rest := body[open+2:]
		closing := strings.Index(rest, "}}")
		if closing < 0 {
			return nil, fmt.Errorf("unterminated placeholder")
		}
		name := strings.TrimSpace(rest[:closing])
		if !slotName.MatchString(name) {
			return nil, fmt.Errorf("invalid placeholder %q", name)
		}
		if _, ok := knownSlots[name]; !ok {
			return nil, fmt.Errorf("unknown slot %q", name)
		}
		segments = append(segments, segment{slot: name})
		body = rest[closing+2:]
	}
	return segments, nil
}

// Render produces the prompt text for in.
func (t *Template) Render(in RenderInput) string {
	flags := map[string]bool{
		CondStrictFormat:   in.Strict,
		CondHasCategory:    strings.TrimSpace(in.Checklist.Category) != "",
		CondRequiredItem:   in.Checklist.Required,
		CondHasDescription: strings.TrimSpace(in.Checklist.Description) != "",
	}
	slots := t.slotValues(in)

	var b strings.Builder
	for _, s := range t.sections {
		if s.when != "" && !flags[s.when] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		for _, seg := range s.segments {
			if seg.slot == "" {
				b.WriteString(seg.text)
				continue
			}
			b.WriteString(slots[seg.slot])
		}
	}
	return b.String()
}

func (t *Template) slotValues(in RenderInput) map[string]string {
	focus := make([]string, len(t.focus))
	for i, f := range t.focus {
		focus[i] = "- " + f
	}
	weight := in.Checklist.Weight
	if weight <= 0 {
		weight = 1
	}
	return map[string]string{
		"persona":         t.persona,
		"domain":          string(t.domain),
		"focus":           strings.Join(focus, "\n"),
		"checklist_title": strings.TrimSpace(in.Checklist.ChecklistTitle),
		"question":        strings.TrimSpace(in.Checklist.Question),
		"description":     strings.TrimSpace(in.Checklist.Description),
		"category":        strings.TrimSpace(in.Checklist.Category),
		"weight":          strconv.FormatFloat(weight, 'f', 2, 64),
		"document":        truncateRunes(strings.TrimSpace(in.DocumentExcerpt), t.maxExcerptRunes),
	}
}

// truncateRunes cuts s to at most limit runes without splitting a character.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i] + truncationMarker
		}
		count++
	}
	return s
}
