// Package summarizer asks a generative model for human-readable topic themes.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/llm"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/pkg/logger"
	"github.com/newsrisk/backend/pkg/retry"
)

// FailedSentinel is returned instead of a theme when the model produced
// nothing usable. Callers keep their own theme when they see it.
const FailedSentinel = "<FAILED>"

const (
	TaskSummary = "summary"
	TaskRisk    = "risk"
)

// DefaultSystemPrompt frames every request.
const DefaultSystemPrompt = "You are a helpful expert assistant being asked to analyse the risk of news for a client. " +
	"The news data will be text based and focus on a specific company. The goal is to help a layperson be able to " +
	"understand what a company may be involved with and when. It is vital to catch risky dealings of companies we analyse.\n\n" +
	"If the company is mentioned in an article, it does not mean it is necessarily risky. For example, a fraud-prosecuting " +
	"law firm is not risky, a company being prosecuted for fraud is risky.\n\n"

// Generator is the text generation capability. llm.Client implements it.
type Generator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	HasCredential() bool
}

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	SystemPrompt   string
	Temperature    float32
	MaxTokens      int
}

type Summarizer struct {
	gen     Generator
	prompts PromptStore
	cfg     Config
}

func New(gen Generator, prompts PromptStore, cfg Config) *Summarizer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Summarizer{gen: gen, prompts: prompts, cfg: cfg}
}

// Ready fails with models.ErrConfiguration when no credential is set.
func (s *Summarizer) Ready() error {
	if s.gen == nil || !s.gen.HasCredential() {
		return fmt.Errorf("%w: generative summaries need an LLM API key (set OPENAI_API_KEY)", models.ErrConfiguration)
	}
	return nil
}

type promptData struct {
	Titles  []string
	Title   string
	Snippet string
}

// Predict renders the task's prompt over titles and returns the model's
// answer. Rate-limited calls are retried with exponential backoff; when the
// retries run out or the answer is empty it returns FailedSentinel and a nil
// error. Other generator failures wrap models.ErrExternalService.
func (s *Summarizer) Predict(ctx context.Context, titles []string, task string) (string, error) {
	data := promptData{Titles: titles}
	if len(titles) > 0 {
		data.Title = titles[0]
	}
	return s.generate(ctx, task, data)
}

// Classify asks the risk prompt whether a title and snippet describe risky
// news. ok is false when the answer is not a 0 or 1 label.
func (s *Summarizer) Classify(ctx context.Context, title, snippet string) (label int, ok bool, err error) {
	out, err := s.generate(ctx, TaskRisk, promptData{Titles: []string{title}, Title: title, Snippet: snippet})
	if err != nil {
		return 0, false, err
	}
	if out == FailedSentinel {
		return 0, false, nil
	}
	label, ok = parseLabel(out)
	return label, ok, nil
}

func (s *Summarizer) generate(ctx context.Context, task string, data promptData) (string, error) {
	if err := s.Ready(); err != nil {
		return "", err
	}

	prompt, err := s.render(task, data)
	if err != nil {
		return "", err
	}

	retryCfg := retry.Config{
		MaxAttempts:     s.cfg.MaxRetries,
		InitialDelay:    s.cfg.InitialBackoff,
		MaxDelay:        s.cfg.InitialBackoff << uint(s.cfg.MaxRetries),
		Multiplier:      2.0,
		RetryableErrors: []error{llm.ErrRateLimited},
		Logger:          logger.GetLogger(),
	}

	resp, err := retry.DoWithResult(ctx, retryCfg, func() (*llm.CompletionResponse, error) {
		return s.gen.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: s.cfg.SystemPrompt,
			UserPrompt:   prompt,
			Temperature:  s.cfg.Temperature,
			MaxTokens:    s.cfg.MaxTokens,
		})
	})

	switch {
	case err == nil:
	case errors.Is(err, llm.ErrRateLimited):
		logger.Warn("Generation retries exhausted", zap.String("task", task), zap.Error(err))
		return FailedSentinel, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("%w: task %q: %v", models.ErrExternalService, task, err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" || strings.Contains(content, FailedSentinel) {
		logger.Debug("Generation returned no usable content", zap.String("task", task))
		return FailedSentinel, nil
	}

	return content, nil
}

func (s *Summarizer) render(task string, data promptData) (string, error) {
	if s.prompts == nil {
		return "", fmt.Errorf("%w: %q (no prompt store)", models.ErrUnsupportedTask, task)
	}
	text, ok := s.prompts.Template(task)
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedTask, task)
	}

	tmpl, err := template.New(task).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("prompt %q: %w", task, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompt %q: %w", task, err)
	}
	return b.String(), nil
}

func parseLabel(out string) (int, bool) {
	field := strings.Trim(strings.TrimSpace(out), ".'\"")
	if i := strings.IndexAny(field, " \n\t"); i >= 0 {
		field = field[:i]
	}
	n, err := strconv.Atoi(field)
	if err != nil || (n != 0 && n != 1) {
		return 0, false
	}
	return n, true
}
