// Package postproc validates synthesized results against their domain schema,
// applies one deterministic repair pass and rejects what is left broken.
package postproc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/araddon/dateparse"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/alert"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/internal/enrich/synth"
	"github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/search"
)

// Stage names the post-processor in alerts.
const Stage = "postproc"

// State is a post-processing state.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateRepairing  State = "repairing"
	StateValid      State = "valid"
	StateRejected   State = "rejected"
)

// Transition is one step of the state machine.
type Transition struct {
	From       State     `json:"from"`
	To         State     `json:"to"`
	At         time.Time `json:"at"`
	Violations int       `json:"violations"`
}

// Outcome is the result of processing one synthesis.
type Outcome struct {
	Keyword   string            `json:"keyword"`
	Domain    string            `json:"domain"`
	State     State             `json:"state"`
	Trail     []Transition      `json:"trail"`
	Fields    map[string]any    `json:"fields,omitempty"`
	Citations []schema.Citation `json:"citations,omitempty"`
	// Repaired is set when the result only became valid through repair.
	Repaired bool `json:"repaired"`
	// Repairs describes every applied repair rule.
	Repairs []string `json:"repairs,omitempty"`
	// Initial are the violations found before repair.
	Initial []schema.Violation `json:"initial,omitempty"`
	// Violations are the violations that caused rejection.
	Violations []schema.Violation `json:"violations,omitempty"`
	Alert      *alert.Alert       `json:"alert,omitempty"`
}

// FieldRequester asks the model again for a single field.
type FieldRequester interface {
	RequestField(ctx context.Context, keyword string, docs []search.Document, def *schema.Definition, field string) (any, []schema.Citation, error)
}

// Option customises a Processor.
type Option func(*Processor)

// WithRequester enables the re-request repair rule.
func WithRequester(r FieldRequester) Option {
	return func(p *Processor) {
		p.requester = r
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// Processor runs the post-processing state machine.
type Processor struct {
	sink      alert.Sink
	requester FieldRequester
	logger    logSDK.Logger
	now       func() time.Time
}

// New creates a Processor that reports rejections to sink.
func New(sink alert.Sink, opts ...Option) *Processor {
	p := &Processor{
		sink:   sink,
		logger: log.Logger.Named("postproc"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sink == nil {
		p.sink = alert.NewLogSink(p.logger)
	}
	return p
}

type run struct {
	p       *Processor
	out     *Outcome
	logger  logSDK.Logger
	current State
}

func (r *run) moveTo(next State, violations int) {
	r.out.Trail = append(r.out.Trail, Transition{
		From:       r.current,
		To:         next,
		At:         r.p.now(),
		Violations: violations,
	})
	r.logger.Debug("postproc transition",
		zap.String("from", string(r.current)),
		zap.String("to", string(next)),
		zap.Int("violations", violations))
	r.current = next
	r.out.State = next
}

// Process validates res against def. A Valid outcome has a nil error.
// A Rejected outcome comes with a ValidationRejected error, or SynthesisFailed
// when the result cites sources it was not given, and exactly one alert.
func (p *Processor) Process(ctx context.Context, res *synth.Result, def *schema.Definition) (*Outcome, error) {
	if res == nil || def == nil {
		return nil, errors.New("synthesis result and schema definition are required")
	}

	r := &run{
		p:       p,
		out:     &Outcome{Keyword: res.Keyword, Domain: res.Domain, State: StateReceived},
		logger:  p.logger.With(zap.String("keyword", res.Keyword), zap.String("schema", def.Name())),
		current: StateReceived,
	}

	fields := cloneFields(res.Fields)
	citations := append([]schema.Citation(nil), res.Citations...)

	r.moveTo(StateValidating, 0)
	normalized, violations := p.check(res, def, fields, citations)
	r.out.Initial = violations
	if len(violations) == 0 {
		r.moveTo(StateValid, 0)
		r.out.Fields = normalized
		r.out.Citations = citations
		return r.out, nil
	}

	r.moveTo(StateRepairing, len(violations))
	if !schema.HasBlocking(violations) {
		fields, citations = p.repair(ctx, r, res, def, fields, citations, violations)
		normalized, violations = p.check(res, def, fields, citations)
	}

	if len(violations) == 0 {
		r.moveTo(StateValid, 0)
		r.out.Fields = normalized
		r.out.Citations = citations
		r.out.Repaired = true
		r.logger.Info("synthesis repaired", zap.Strings("repairs", r.out.Repairs))
		return r.out, nil
	}

	r.moveTo(StateRejected, len(violations))
	r.out.Violations = violations
	return r.out, p.reject(ctx, r, res, violations)
}

func (p *Processor) check(res *synth.Result, def *schema.Definition, fields map[string]any, citations []schema.Citation) (map[string]any, []schema.Violation) {
	var violations []schema.Violation
	if res.Domain != def.Name() || res.SchemaVersion != def.Version() || res.PromptHash != def.Hash() {
		violations = append(violations, schema.Violation{
			Code: schema.CodeSchemaDrift,
			Message: fmt.Sprintf("result was made for %s v%s (%s), active is %s v%s (%s)",
				res.Domain, res.SchemaVersion, shortHash(res.PromptHash),
				def.Name(), def.Version(), shortHash(def.Hash())),
		})
	}

	normalized, vs := def.Validate(fields, p.now())
	violations = append(violations, vs...)
	violations = append(violations, def.CheckCitations(fields, citations, res.AllowedURLs())...)
	return normalized, violations
}

// repair applies the rules in order: drop unknown fields, coerce dates,
// normalize enums, then re-request a single missing field.
// Out of range numbers are left alone.
func (p *Processor) repair(ctx context.Context, r *run, res *synth.Result, def *schema.Definition,
	fields map[string]any, citations []schema.Citation, violations []schema.Violation,
) (map[string]any, []schema.Citation) {
	var missing []string
	for _, v := range violations {
		switch v.Code {
		case schema.CodeUnknownField:
			delete(fields, v.Field)
			r.out.Repairs = append(r.out.Repairs, "drop "+v.Field)
		case schema.CodeMissingField:
			missing = append(missing, v.Field)
		}
	}

	for _, v := range violations {
		if v.Code != schema.CodeInvalidDate {
			continue
		}
		raw, ok := schema.GetPath(fields, v.Field)
		s, isString := raw.(string)
		if !ok || !isString {
			continue
		}
		t, err := dateparse.ParseAny(strings.TrimSpace(s))
		if err != nil {
			r.logger.Debug("date not coercible", zap.String("field", v.Field), zap.Error(err))
			continue
		}
		if schema.SetPath(fields, v.Field, t.Format(schema.DateLayout)) {
			r.out.Repairs = append(r.out.Repairs, "coerce date "+v.Field)
		}
	}

	for _, v := range violations {
		if v.Code != schema.CodeInvalidEnum {
			continue
		}
		e, ok := schema.LookupEnum(v.Param)
		if !ok {
			continue
		}
		raw, _ := schema.GetPath(fields, v.Field)
		s, isString := raw.(string)
		if !isString {
			continue
		}
		if normalized, ok := e.Normalize(s); ok && schema.SetPath(fields, v.Field, normalized) {
			r.out.Repairs = append(r.out.Repairs, "normalize "+v.Field)
		}
	}

	if len(missing) == 1 && p.requester != nil && !strings.ContainsAny(missing[0], ".[") {
		field := missing[0]
		value, extra, err := p.requester.RequestField(ctx, res.Keyword, res.Documents, def, field)
		if err != nil {
			r.logger.Warn("re-request missing field", zap.String("field", field), zap.Error(err))
		} else {
			fields[field] = value
			citations = append(citations, extra...)
			r.out.Repairs = append(r.out.Repairs, "re-request "+field)
		}
	}

	return fields, citations
}

func (p *Processor) reject(ctx context.Context, r *run, res *synth.Result, violations []schema.Violation) error {
	kind := enrich.KindValidationRejected
	for _, v := range violations {
		if v.Code == schema.CodeCitationOutOfSet {
			kind = enrich.KindSynthesisFailed
			break
		}
	}

	payload := res.Raw
	if payload == "" {
		if raw, err := json.Marshal(res.Fields); err == nil {
			payload = string(raw)
		}
	}

	a := alert.New(Stage, res.Keyword, res.Domain, kind, payload, violations, p.now())
	r.out.Alert = a
	if err := p.sink.Send(ctx, a); err != nil {
		r.logger.Error("deliver alert", zap.String("alert", a.ID), zap.Error(err))
	}

	r.logger.Warn("synthesis rejected",
		zap.String("kind", string(kind)),
		zap.Strings("violations", schema.Codes(violations)))
	return enrich.NewError(kind, res.Keyword,
		"rejected by post-processor: "+strings.Join(schema.Codes(violations), ","), nil)
}

func cloneFields(fields map[string]any) map[string]any {
	out := map[string]any{}
	if fields == nil {
		return out
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
