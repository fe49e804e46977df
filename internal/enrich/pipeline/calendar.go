package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/library/search"
)

// CalendarKeyword names the artifact chain that holds one calendar per day.
const CalendarKeyword = "daily calendar"

// WithCalendar makes Run and Drain consolidate their artifacts into the
// daily calendar once the batch is done.
func WithCalendar(enabled bool) Option {
	return func(o *Orchestrator) {
		o.calendar = enabled
	}
}

// ArtifactRef is the source URL a calendar cites for one keyword artifact.
func ArtifactRef(a *artifact.Artifact) string {
	return fmt.Sprintf("artifact://%s/%s/v%d", a.Domain, url.PathEscape(a.Keyword), a.Version)
}

// Calendar consolidates artifacts into today's calendar.
//
// A calendar already persisted today is returned as reused without a model
// call. It returns nil, nil when no artifact qualifies.
func (o *Orchestrator) Calendar(ctx context.Context, artifacts []*artifact.Artifact) (*Outcome, error) {
	def, ok := o.deps.Registry.Lookup(schema.DomainCalendar)
	if !ok {
		return nil, enrich.NewError(enrich.KindInvalidInput, CalendarKeyword, "calendar schema is not registered", nil)
	}
	kw := keyword.Keyword{Raw: CalendarKeyword, Canonical: CalendarKeyword, Domain: def.Name()}

	docs := calendarDocuments(artifacts)
	if len(docs) == 0 {
		return nil, nil
	}

	key := runKey(kw.Domain, kw.Canonical)
	if rec, cooling := o.failures.active(key, o.now()); cooling {
		return nil, rec.err()
	}

	v, err, shared := o.flight.Do(key, func() (any, error) {
		return o.runCalendar(ctx, kw, def, docs)
	})
	if err != nil {
		return nil, err
	}
	out, _ := v.(*Outcome)
	if !shared || out == nil {
		return out, nil
	}
	cp := *out
	cp.Shared = true
	cp.Artifact = out.Artifact.Clone()
	return &cp, nil
}

func (o *Orchestrator) runCalendar(ctx context.Context, kw keyword.Keyword,
	def *schema.Definition, docs []search.Document) (*Outcome, error) {
	startAt := o.now()
	logger := o.logger.With(zap.String("keyword", kw.Canonical), zap.String("domain", kw.Domain))

	out, err := o.makeCalendar(ctx, logger, kw, def, docs)
	if err != nil {
		alerted := out != nil && out.Post != nil && out.Post.Alert != nil
		return nil, o.fail(ctx, logger, kw, err, alerted)
	}

	o.failures.clear(runKey(kw.Domain, kw.Canonical))
	out.Duration = o.now().Sub(startAt)
	logger.Info("calendar ready",
		zap.Int("version", out.Artifact.Version),
		zap.Int("sources", len(docs)),
		zap.Bool("reused", out.Reused),
		zap.Duration("cost", out.Duration))
	return out, nil
}

func (o *Orchestrator) makeCalendar(ctx context.Context, logger logSDK.Logger,
	kw keyword.Keyword, def *schema.Definition, docs []search.Document) (*Outcome, error) {
	out := &Outcome{Keyword: kw}
	today := o.now().UTC().Format(schema.DateLayout)

	latest, err := o.deps.Store.Latest(ctx, kw.Canonical)
	switch {
	case err == nil:
		if err := ownerConflict(kw, latest); err != nil {
			return nil, err
		}
		if date, _ := latest.Fields["date"].(string); date == today {
			logger.Debug("calendar already made today", zap.Int("version", latest.Version))
			out.Artifact = latest
			out.Reused = true
			return out, nil
		}
	case errors.Is(err, artifact.ErrNotFound):
	default:
		return nil, enrich.NewError(enrich.KindInternal, kw.Canonical, "read latest calendar", err)
	}

	res, err := o.deps.Synth.Synthesize(ctx, kw.Canonical, docs, def)
	if err != nil {
		return nil, err
	}
	post, err := o.deps.Post.Process(ctx, res, def)
	out.Post = post
	if err != nil {
		return out, err
	}

	a, reused, err := o.persist(ctx, logger, kw, def, post)
	if err != nil {
		return out, err
	}
	out.Artifact = a
	out.Reused = reused
	return out, nil
}

// calendarDocuments turns persisted keyword artifacts into calendar sources,
// one per keyword version, ordered by keyword.
func calendarDocuments(artifacts []*artifact.Artifact) []search.Document {
	seen := map[string]struct{}{}
	docs := make([]search.Document, 0, len(artifacts))
	for _, a := range artifacts {
		if a == nil || a.Domain == schema.DomainCalendar {
			continue
		}
		if a.Status != artifact.StatusValid && a.Status != artifact.StatusRepaired {
			continue
		}

		ref := ArtifactRef(a)
		if _, dup := seen[ref]; dup {
			continue
		}
		body, err := json.Marshal(a.Fields)
		if err != nil {
			continue
		}
		seen[ref] = struct{}{}
		docs = append(docs, search.Document{
			Title:    a.Keyword + " (" + a.Domain + ")",
			URL:      ref,
			Snippet:  string(body),
			Provider: "artifact",
		})
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].URL < docs[j].URL })
	return docs
}

// batchArtifacts returns the artifacts of the successful outcomes of r.
func batchArtifacts(r Report) []*artifact.Artifact {
	out := make([]*artifact.Artifact, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o != nil && o.Artifact != nil {
			out = append(out, o.Artifact)
		}
	}
	return out
}

// finishBatch builds the daily calendar from the batch when enabled.
func (o *Orchestrator) finishBatch(ctx context.Context, r *Report) {
	if !o.calendar || r.Succeeded == 0 || ctx.Err() != nil {
		return
	}

	out, err := o.Calendar(ctx, batchArtifacts(*r))
	if err != nil {
		r.CalendarError = err.Error()
		o.logger.Warn("daily calendar failed", zap.Error(err))
		return
	}
	r.Calendar = out
}
