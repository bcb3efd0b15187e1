package scoring

import (
	"errors"
	"fmt"
	"strings"
)

// ExtractionKind classifies why a completion could not be parsed.
type ExtractionKind string

const (
	KindMissingSection    ExtractionKind = "missing_section"
	KindInsufficientItems ExtractionKind = "insufficient_items"
	KindOutOfRange        ExtractionKind = "out_of_range"
	KindMissingScore      ExtractionKind = "missing_score"
	KindEmptyResponse     ExtractionKind = "empty_response"
)

// Sentinels matched by errors.Is against an *ExtractionError.
var (
	ErrMissingSection    = errors.New("missing section")
	ErrInsufficientItems = errors.New("insufficient items")
	ErrOutOfRange        = errors.New("score out of range")
	ErrMissingScore      = errors.New("missing score")
	ErrEmptyResponse     = errors.New("empty response")
)

var extractionSentinels = map[ExtractionKind]error{
	KindMissingSection:    ErrMissingSection,
	KindInsufficientItems: ErrInsufficientItems,
	KindOutOfRange:        ErrOutOfRange,
	KindMissingScore:      ErrMissingScore,
	KindEmptyResponse:     ErrEmptyResponse,
}

// ExtractionError reports a structural violation in a completion.
type ExtractionError struct {
	Kind     ExtractionKind
	Section  string
	Found    int
	Required int
	Value    float64
}

func (e *ExtractionError) Error() string {
	switch e.Kind {
	case KindMissingSection:
		return fmt.Sprintf("missing section %q", e.Section)
	case KindInsufficientItems:
		return fmt.Sprintf("section %q has %d valid items, %d required", e.Section, e.Found, e.Required)
	case KindOutOfRange:
		return fmt.Sprintf("score %g outside [0, 1]", e.Value)
	case KindMissingScore:
		return "no score found"
	case KindEmptyResponse:
		return "empty response"
	default:
		return string(e.Kind)
	}
}

// Is lets errors.Is match the kind sentinels.
func (e *ExtractionError) Is(target error) bool {
	sentinel, ok := extractionSentinels[e.Kind]
	return ok && sentinel == target
}

// FailureKind is the terminal outcome of a failed scoring run.
type FailureKind string

const (
	FormatExhausted     FailureKind = "format_exhausted"
	UpstreamUnavailable FailureKind = "upstream_unavailable"
)

var (
	ErrFormatExhausted     = errors.New("scoring format attempts exhausted")
	ErrUpstreamUnavailable = errors.New("completion service unavailable")
)

// ScoringError is returned by the orchestrator when no valid result could be produced.
type ScoringError struct {
	Kind     FailureKind
	Attempts int
	LastRaw  string
	Cause    error
}

func (e *ScoringError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("scoring failed: %s after %d attempts", e.Kind, e.Attempts)
	}
	return fmt.Sprintf("scoring failed: %s after %d attempts: %v", e.Kind, e.Attempts, e.Cause)
}

func (e *ScoringError) Unwrap() error { return e.Cause }

// Is matches ErrFormatExhausted and ErrUpstreamUnavailable.
func (e *ScoringError) Is(target error) bool {
	switch e.Kind {
	case FormatExhausted:
		return target == ErrFormatExhausted
	case UpstreamUnavailable:
		return target == ErrUpstreamUnavailable
	}
	return false
}

// Diagnostic renders the error for operators, keeping at most rawLimit runes
// of the last raw response.
func (e *ScoringError) Diagnostic(rawLimit int) string {
	var b strings.Builder
	b.WriteString(e.Error())
	raw := strings.TrimSpace(e.LastRaw)
	if raw == "" {
		return b.String()
	}
	runes := []rune(raw)
	if rawLimit > 0 && len(runes) > rawLimit {
		raw = string(runes[:rawLimit]) + "..."
	}
	b.WriteString("\n--- last response ---\n")
	b.WriteString(raw)
	return b.String()
}
