package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/source"
)

// Report summarizes a batch. Calendar holds the daily calendar built from
// the batch when enabled, CalendarError why it could not be built.
type Report struct {
	Total         int                 `json:"total"`
	Succeeded     int                 `json:"succeeded"`
	Reused        int                 `json:"reused"`
	Failed        map[enrich.Kind]int `json:"failed"`
	Outcomes      []*Outcome          `json:"outcomes"`
	Failures      []FailureRecord     `json:"failures"`
	Duration      time.Duration       `json:"duration"`
	Calendar      *Outcome            `json:"calendar,omitempty"`
	CalendarError string              `json:"calendar_error,omitempty"`
}

type reportBuilder struct {
	mu     sync.Mutex
	report Report
}

func newReportBuilder() *reportBuilder {
	return &reportBuilder{report: Report{Failed: map[enrich.Kind]int{}}}
}

func (b *reportBuilder) add(raw keyword.Raw, out *Outcome, err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.report.Total++
	if err == nil {
		b.report.Succeeded++
		if out.Reused {
			b.report.Reused++
		}
		b.report.Outcomes = append(b.report.Outcomes, out)
		return
	}

	kind, ok := enrich.KindOf(err)
	if !ok {
		kind = enrich.KindInternal
	}
	b.report.Failed[kind]++
	b.report.Failures = append(b.report.Failures, FailureRecord{
		Keyword: raw.Text,
		Domain:  raw.Domain,
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
		At:      now,
	})
}

// FailedTotal returns the number of failed keywords.
func (r Report) FailedTotal() int {
	n := 0
	for _, c := range r.Failed {
		n += c
	}
	return n
}

// Run processes keywords with the configured concurrency. A failing keyword
// never stops the others.
func (o *Orchestrator) Run(ctx context.Context, keywords []keyword.Raw) Report {
	startAt := o.now()
	b := newReportBuilder()

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for _, raw := range keywords {
		g.Go(func() error {
			out, err := o.Enrich(ctx, raw)
			b.add(raw, out, err, o.now())
			return nil
		})
	}
	_ = g.Wait()

	o.finishBatch(ctx, &b.report)
	b.report.Duration = o.now().Sub(startAt)
	o.logReport(b.report)
	return b.report
}

// Drain pulls from src until it is exhausted or ctx ends, keeping at most
// the configured number of keywords in flight.
func (o *Orchestrator) Drain(ctx context.Context, src source.Source) (Report, error) {
	startAt := o.now()
	b := newReportBuilder()

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	var pullErr error
	for {
		raw, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				pullErr = err
			}
			break
		}
		g.Go(func() error {
			out, err := o.Enrich(ctx, raw)
			b.add(raw, out, err, o.now())
			return nil
		})
	}
	_ = g.Wait()

	o.finishBatch(ctx, &b.report)
	b.report.Duration = o.now().Sub(startAt)
	o.logReport(b.report)
	if pullErr != nil {
		if ctx.Err() != nil {
			return b.report, errors.Wrap(ctx.Err(), "drain keyword source")
		}
		return b.report, errors.Wrap(pullErr, "pull keyword")
	}
	return b.report, nil
}

func (o *Orchestrator) logReport(r Report) {
	fields := []zap.Field{
		zap.Int("total", r.Total),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("reused", r.Reused),
		zap.Duration("cost", r.Duration),
	}
	for _, kind := range enrich.Kinds {
		if n := r.Failed[kind]; n > 0 {
			fields = append(fields, zap.Int("failed_"+string(kind), n))
		}
	}
	o.logger.Info("batch finished", fields...)
}
