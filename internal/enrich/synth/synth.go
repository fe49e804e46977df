// Package synth turns ranked search documents into a structured,
// citation-carrying answer of a domain schema.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/internal/library/llm"
	"github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/retry"
	"github.com/Laisky/keyword-enricher/library/search"
)

// Result is one parsed synthesis.
type Result struct {
	Keyword       string            `json:"keyword"`
	Domain        string            `json:"domain"`
	SchemaVersion string            `json:"schema_version"`
	PromptHash    string            `json:"prompt_hash"`
	Model         string            `json:"model"`
	Fields        map[string]any    `json:"fields"`
	Citations     []schema.Citation `json:"citations"`
	// OutOfSet lists cited URLs that were not among Documents.
	OutOfSet  []string          `json:"out_of_set,omitempty"`
	Documents []search.Document `json:"documents"`
	Raw       string            `json:"raw"`
	CreatedAt time.Time         `json:"created_at"`
}

// AllowedURLs returns the set of URLs the model was shown.
func (r *Result) AllowedURLs() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Documents))
	for _, d := range r.Documents {
		set[d.URL] = struct{}{}
	}
	return set
}

// Config bounds cost and shape of the LLM calls.
type Config struct {
	Model           string
	TokenBudget     int
	MaxDocuments    int
	MaxOutputTokens int
	Temperature     float64
	Policy          retry.Policy
}

// Option customises a Synthesizer.
type Option func(*Synthesizer)

// WithLogger overrides the logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		if now != nil {
			s.now = now
		}
	}
}

// Synthesizer implements the synthesis stage over any llm.Provider.
type Synthesizer struct {
	provider llm.Provider
	cfg      Config
	logger   logSDK.Logger
	now      func() time.Time
}

// New creates a Synthesizer.
func New(provider llm.Provider, cfg Config, opts ...Option) (*Synthesizer, error) {
	if provider == nil {
		return nil, errors.New("llm provider is nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("synth model is empty")
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 6000
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = 8
	}

	s := &Synthesizer{
		provider: provider,
		cfg:      cfg,
		logger:   log.Logger.Named("synth"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type answer struct {
	Fields    map[string]any    `json:"fields"`
	Citations []schema.Citation `json:"citations"`
}

// Synthesize asks the model for def's fields about keyword, grounded in docs.
//
// Malformed output gets one corrective follow-up, a second failure returns a
// SynthesisFailed error. Citations outside the shown documents are kept and
// listed in Result.OutOfSet.
func (s *Synthesizer) Synthesize(ctx context.Context, keyword string, docs []search.Document, def *schema.Definition) (*Result, error) {
	if def == nil {
		return nil, enrich.NewError(enrich.KindInvalidInput, keyword, "schema definition is nil", nil)
	}

	used := Shrink(keyword, docs, s.cfg.TokenBudget, s.cfg.MaxDocuments)
	if len(used) == 0 {
		return nil, enrich.NewError(enrich.KindSynthesisFailed, keyword, "no usable documents", nil)
	}

	now := s.now()
	prompt, err := def.Render(keyword, now, promptDocuments(used))
	if err != nil {
		return nil, enrich.NewError(enrich.KindSynthesisFailed, keyword, "render prompt", err)
	}

	logger := s.logger.With(zap.String("keyword", keyword), zap.String("schema", def.Name()))
	startAt := time.Now()
	raw, err := s.complete(ctx, def, prompt)
	if err != nil {
		return nil, s.callError(ctx, keyword, err)
	}

	ans, parseErr := parseAnswer(raw)
	if parseErr != nil {
		logger.Warn("malformed synthesis, send corrective prompt", zap.Error(parseErr))
		raw, err = s.complete(ctx, def, correctivePrompt(prompt, raw, parseErr, def.Hint()))
		if err != nil {
			return nil, s.callError(ctx, keyword, err)
		}
		if ans, parseErr = parseAnswer(raw); parseErr != nil {
			return nil, enrich.NewError(enrich.KindSynthesisFailed, keyword,
				"model output unparsable after corrective retry", parseErr)
		}
	}

	result := &Result{
		Keyword:       keyword,
		Domain:        def.Name(),
		SchemaVersion: def.Version(),
		PromptHash:    def.Hash(),
		Model:         s.cfg.Model,
		Fields:        ans.Fields,
		Citations:     ans.Citations,
		Documents:     used,
		Raw:           raw,
		CreatedAt:     now,
	}
	allowed := result.AllowedURLs()
	for _, c := range ans.Citations {
		if _, ok := allowed[c.URL]; !ok {
			result.OutOfSet = append(result.OutOfSet, c.URL)
		}
	}
	if len(result.OutOfSet) > 0 {
		logger.Warn("synthesis cites unknown sources", zap.Strings("urls", result.OutOfSet))
	}

	logger.Info("synthesized",
		zap.Int("documents", len(used)),
		zap.Int("citations", len(result.Citations)),
		zap.Duration("cost", time.Since(startAt)))
	return result, nil
}

type fieldAnswer struct {
	Value     any               `json:"value"`
	Citations []schema.Citation `json:"citations"`
}

// RequestField asks the model for one missing field of def.
// Only citations among docs are returned.
func (s *Synthesizer) RequestField(ctx context.Context, keyword string, docs []search.Document, def *schema.Definition, field string) (any, []schema.Citation, error) {
	if def == nil {
		return nil, nil, errors.New("schema definition is nil")
	}

	prompt, err := def.Render(keyword, s.now(), promptDocuments(docs))
	if err != nil {
		return nil, nil, errors.Wrap(err, "render prompt")
	}
	prompt += fmt.Sprintf("\nOnly the field %q is needed now. "+
		`Answer with one JSON object {"value": <value of %s>, "citations": [{"url": "...", "claims": [%q]}]}.`,
		field, field, field)

	raw, err := s.complete(ctx, def, prompt)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "request field %s", field)
	}

	var ans fieldAnswer
	if err := json.Unmarshal([]byte(stripFences(raw)), &ans); err != nil {
		return nil, nil, errors.Wrapf(err, "parse field %s", field)
	}
	if ans.Value == nil {
		return nil, nil, errors.Errorf("model returned no value for %s", field)
	}

	allowed := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		allowed[d.URL] = struct{}{}
	}
	var citations []schema.Citation
	for _, c := range ans.Citations {
		if _, ok := allowed[c.URL]; ok {
			citations = append(citations, c)
		}
	}

	return ans.Value, citations, nil
}

func (s *Synthesizer) complete(ctx context.Context, def *schema.Definition, prompt string) (string, error) {
	req := llm.ResponseRequest{
		Model:           s.cfg.Model,
		Instructions:    def.Instructions(),
		Input:           prompt,
		PromptCacheKey:  def.Hash(),
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		Temperature:     s.cfg.Temperature,
	}

	var text string
	err := s.cfg.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		out, err := s.provider.Complete(ctx, req)
		if err != nil {
			s.logger.Debug("llm call failed", zap.Int("attempt", attempt), zap.Error(err))
			if se, ok := llm.AsStatusError(err); ok && !se.Temporary() {
				return retry.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (s *Synthesizer) callError(ctx context.Context, keyword string, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "synthesis canceled")
	}
	return enrich.NewError(enrich.KindSynthesisFailed, keyword, "llm call failed", err)
}

func promptDocuments(docs []search.Document) []schema.PromptDocument {
	out := make([]schema.PromptDocument, 0, len(docs))
	for i, d := range docs {
		out = append(out, schema.PromptDocument{
			Index:   i + 1,
			Title:   d.Title,
			URL:     d.URL,
			Snippet: d.Snippet,
		})
	}
	return out
}

func correctivePrompt(prompt, previous string, parseErr error, hint string) string {
	return prompt + "\n<previous_answer>\n" + previous + "\n</previous_answer>\n\n" +
		"Your previous answer could not be parsed: " + parseErr.Error() + ".\n" +
		`Answer again with only the JSON object {"fields": {...}, "citations": [...]}. ` +
		"The fields must match this JSON schema:\n" + hint + "\n"
}

// stripFences returns the json inside a ```json fence, or the outermost
// object when the model wrapped it in prose.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(body[:nl]), "{") {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}

	if first, last := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); first >= 0 && last > first {
		return text[first : last+1]
	}
	return text
}

func parseAnswer(raw string) (*answer, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, errors.New("empty answer")
	}

	var ans answer
	if err := json.Unmarshal([]byte(body), &ans); err != nil {
		return nil, errors.Wrap(err, "decode answer json")
	}
	if ans.Fields == nil {
		return nil, errors.New(`answer has no "fields" object`)
	}
	for i, c := range ans.Citations {
		if strings.TrimSpace(c.URL) == "" {
			return nil, errors.Errorf("citation %d has no url", i)
		}
	}
	return &ans, nil
}
