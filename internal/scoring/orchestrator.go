// Package scoring turns a document and a checklist criterion into a validated
// analysis by prompting a completion provider and parsing its answer.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/prompt"
	"github.com/noah-isme/esg-compliance-api/pkg/llm"
	"github.com/noah-isme/esg-compliance-api/pkg/resilience"
)

const DefaultMaxFormatAttempts = 3

// Observer receives scoring telemetry.
type Observer interface {
	ObserveCompletion(provider, outcome string, elapsed time.Duration)
	ObserveFormatFailure(domain string, kind ExtractionKind)
}

type noopObserver struct{}

func (noopObserver) ObserveCompletion(string, string, time.Duration) {}
func (noopObserver) ObserveFormatFailure(string, ExtractionKind)     {}

type templateSource interface {
	Get(domain prompt.Domain) (*prompt.Template, error)
}

// Config tunes a single completion request and the format retry budget.
type Config struct {
	Model             string
	MaxTokens         int
	Temperature       float32
	CallTimeout       time.Duration
	MaxFormatAttempts int
}

// Request is one criterion to score against a document.
type Request struct {
	Item           models.ChecklistItem
	ChecklistTitle string
	DocumentText   string
	Domain         prompt.Domain
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the telemetry sink.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// Orchestrator drives the prompt, complete, extract loop.
type Orchestrator struct {
	templates templateSource
	client    llm.Client
	executor  *resilience.Executor
	extractor *Extractor
	cfg       Config
	logger    *zap.Logger
	observer  Observer
	now       func() time.Time
}

// NewOrchestrator wires a template registry, a completion client and the
// retry executor guarding upstream calls.
func NewOrchestrator(templates *prompt.Registry, client llm.Client, executor *resilience.Executor, cfg Config, opts ...Option) *Orchestrator {
	return newOrchestrator(templates, client, executor, cfg, opts...)
}

func newOrchestrator(templates templateSource, client llm.Client, executor *resilience.Executor, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxFormatAttempts <= 0 {
		cfg.MaxFormatAttempts = DefaultMaxFormatAttempts
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	o := &Orchestrator{
		templates: templates,
		client:    client,
		executor:  executor,
		extractor: NewExtractor(),
		cfg:       cfg,
		logger:    zap.NewNop(),
		observer:  noopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Score evaluates documentText against item from the given domain perspective.
func (o *Orchestrator) Score(ctx context.Context, item models.ChecklistItem, documentText string, domain prompt.Domain) (*models.AnalysisResult, error) {
	return o.ScoreRequest(ctx, Request{Item: item, DocumentText: documentText, Domain: domain})
}

// ScoreRequest is Score with checklist context. Format failures are retried
// with the strict format section enabled; upstream failures are retried by
// the executor and end the run when its budget is spent.
func (o *Orchestrator) ScoreRequest(ctx context.Context, req Request) (*models.AnalysisResult, error) {
	tmpl, err := o.templates.Get(req.Domain)
	if err != nil {
		return nil, fmt.Errorf("scoring template: %w", err)
	}

	start := o.now()
	input := prompt.RenderInput{
		DocumentExcerpt: req.DocumentText,
		Checklist: prompt.ChecklistContext{
			ChecklistTitle: req.ChecklistTitle,
			Question:       req.Item.Question,
			Description:    req.Item.DescriptionValue(),
			Category:       req.Item.CategoryValue(),
			Weight:         req.Item.Weight,
			Required:       req.Item.IsRequired,
		},
	}

	var (
		lastRaw string
		lastErr error
	)
	for attempt := 1; attempt <= o.cfg.MaxFormatAttempts; attempt++ {
		input.Strict = attempt > 1
		text, modelVersion, calls, err := o.complete(ctx, tmpl.Render(input))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			o.logger.Warn("scoring upstream unavailable",
				zap.String("item_id", req.Item.ID),
				zap.String("domain", string(req.Domain)),
				zap.Int("calls", calls),
				zap.Error(err),
			)
			return nil, &ScoringError{Kind: UpstreamUnavailable, Attempts: calls, LastRaw: lastRaw, Cause: err}
		}

		lastRaw = text
		result, err := o.extractor.Extract(text)
		if err == nil {
			result.AIModelVersion = modelVersion
			result.PromptVersion = tmpl.Version()
			result.ProcessingTimeMS = o.now().Sub(start).Milliseconds()
			return result, nil
		}

		lastErr = err
		var kind ExtractionKind
		var exErr *ExtractionError
		if errors.As(err, &exErr) {
			kind = exErr.Kind
		}
		o.observer.ObserveFormatFailure(string(req.Domain), kind)
		o.logger.Info("scoring format rejected",
			zap.String("item_id", req.Item.ID),
			zap.String("domain", string(req.Domain)),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}

	return nil, &ScoringError{Kind: FormatExhausted, Attempts: o.cfg.MaxFormatAttempts, LastRaw: lastRaw, Cause: lastErr}
}

// complete performs one logical completion through the executor. An empty
// completion is returned as empty text so it counts as a format failure.
func (o *Orchestrator) complete(ctx context.Context, promptText string) (text, modelVersion string, calls int, err error) {
	req := llm.Request{
		Prompt:      promptText,
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	var resp *llm.Response
	err = o.executor.Execute(ctx, "llm.complete", func(ctx context.Context) error {
		calls++
		started := o.now()
		r, callErr := llm.CompleteWithTimeout(ctx, o.client, req, o.cfg.CallTimeout)
		o.observer.ObserveCompletion(o.client.Provider(), completionOutcome(callErr), o.now().Sub(started))
		if errors.Is(callErr, llm.ErrEmptyCompletion) {
			resp = &llm.Response{ModelVersion: o.cfg.Model}
			return nil
		}
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	}, llm.Classify)
	if err != nil {
		return "", "", calls, err
	}

	modelVersion = resp.ModelVersion
	if modelVersion == "" {
		modelVersion = o.cfg.Model
	}
	return resp.Text, modelVersion, calls, nil
}

func completionOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, llm.ErrEmptyCompletion):
		return "empty"
	case errors.Is(err, llm.ErrTimeout):
		return "timeout"
	case llm.Classify(err).Retryable:
		return "transient"
	default:
		return "error"
	}
}
