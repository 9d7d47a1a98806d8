package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/crmai/internal/composer"
	"github.com/kalambet/crmai/internal/metrics"
	"github.com/kalambet/crmai/internal/snapshot"
	"github.com/kalambet/crmai/internal/storage"
)

// Fetcher collects the CRM snapshot used as prompt context.
type Fetcher interface {
	FetchReport(ctx context.Context) snapshot.Report
}

// Generator produces a completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// InteractionRecorder persists answered questions.
type InteractionRecorder interface {
	SaveInteraction(i storage.Interaction) error
}

// Reply is the outcome of one chat turn. Failed is true when the generative
// backend errored and Text holds the diagnostic message instead of an answer.
type Reply struct {
	ID      string
	Text    string
	Prompt  string
	Failed  bool
	Missing []string
}

// Orchestrator answers free-form questions about the CRM: it snapshots the
// upstream data, composes a prompt and forwards it to the model.
type Orchestrator struct {
	fetcher  Fetcher
	composer *composer.Composer
	gen      Generator
	model    string
	recorder InteractionRecorder
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder stores every reply through r.
func WithRecorder(r InteractionRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(f Fetcher, c *composer.Composer, g Generator, model string, opts ...Option) *Orchestrator {
	if c == nil {
		c = composer.New("", "")
	}
	o := &Orchestrator{
		fetcher:  f,
		composer: c,
		gen:      g,
		model:    model,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Model returns the generative model name used for replies.
func (o *Orchestrator) Model() string { return o.model }

// Answer never returns an error: a backend failure becomes a diagnostic reply.
func (o *Orchestrator) Answer(ctx context.Context, question string) Reply {
	start := time.Now()

	report := o.fetcher.FetchReport(ctx)
	prompt := o.composer.Compose(report.Snapshot(), question)

	reply := Reply{
		ID:      uuid.New().String(),
		Prompt:  prompt,
		Missing: missingDomains(report),
	}

	o.logger.Debug("chat prompt composed",
		"id", reply.ID,
		"tokens", composer.EstimateTokens(prompt),
		"missing", reply.Missing,
	)

	text, err := o.gen.Generate(ctx, o.model, prompt)
	if err != nil {
		reply.Failed = true
		reply.Text = Diagnostic(o.model, err)
		o.logger.Warn("generative backend failed", "model", o.model, "error", err)
	} else {
		reply.Text = text
	}
	metrics.ObserveChat(reply.Failed)

	o.record(question, reply)
	o.logger.Info("chat answered",
		"id", reply.ID,
		"failed", reply.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply
}

// Diagnostic is the user-facing text returned when the model cannot answer.
func Diagnostic(model string, err error) string {
	return fmt.Sprintf("Ollama error: %v\nMake sure the model '%s' is downloaded with: ollama pull %s", err, model, model)
}

func (o *Orchestrator) record(question string, reply Reply) {
	if o.recorder == nil {
		return
	}
	status := "completed"
	if reply.Failed {
		status = "backend_error"
	}
	missing, _ := json.Marshal(reply.Missing)
	err := o.recorder.SaveInteraction(storage.Interaction{
		ID:        reply.ID,
		CreatedAt: time.Now().UTC(),
		Question:  question,
		Prompt:    reply.Prompt,
		Model:     o.model,
		Response:  reply.Text,
		Status:    status,
		Missing:   string(missing),
	})
	if err != nil {
		o.logger.Warn("recording interaction", "id", reply.ID, "error", err)
	}
}

func missingDomains(r snapshot.Report) []string {
	errs := r.Errors()
	missing := []string{}
	for _, d := range []string{snapshot.DomainStats, snapshot.DomainClients, snapshot.DomainContracts} {
		if _, ok := errs[d]; ok {
			missing = append(missing, d)
		}
	}
	return missing
}
