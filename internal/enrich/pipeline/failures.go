package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
)

// FailureRecord is the last failure of a keyword.
type FailureRecord struct {
	Keyword    string      `json:"keyword"`
	Domain     string      `json:"domain"`
	Kind       enrich.Kind `json:"kind"`
	Message    string      `json:"message"`
	Err        error       `json:"-"`
	At         time.Time   `json:"at"`
	RetryAfter time.Time   `json:"retry_after"`
}

func (r FailureRecord) err() error {
	if r.Err != nil {
		return r.Err
	}
	return enrich.NewError(r.Kind, r.Keyword, r.Message, nil)
}

type failureBook struct {
	mu      sync.RWMutex
	records map[string]FailureRecord
}

func newFailureBook() *failureBook {
	return &failureBook{records: map[string]FailureRecord{}}
}

func (b *failureBook) record(kw keyword.Keyword, err *enrich.Error, at, retryAfter time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[runKey(kw.Domain, kw.Canonical)] = FailureRecord{
		Keyword:    kw.Canonical,
		Domain:     kw.Domain,
		Kind:       err.Kind,
		Message:    err.Error(),
		Err:        err,
		At:         at,
		RetryAfter: retryAfter,
	}
}

// active returns the record under key while it is cooling down.
func (b *failureBook) active(key string, now time.Time) (FailureRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok || !now.Before(rec.RetryAfter) {
		return FailureRecord{}, false
	}
	return rec, true
}

func (b *failureBook) clear(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
}

func (b *failureBook) list() []FailureRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]FailureRecord, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Keyword != out[j].Keyword {
			return out[i].Keyword < out[j].Keyword
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Failures returns the recorded failures sorted by keyword and domain.
// Records stay after their cooldown until the keyword succeeds.
func (o *Orchestrator) Failures() []FailureRecord {
	return o.failures.list()
}

// Eligible reports whether text may run in domain now, and when it may if not.
func (o *Orchestrator) Eligible(text, domain string) (bool, time.Time) {
	if def, ok := o.deps.Registry.Lookup(domain); ok {
		domain = def.Name()
	}
	rec, cooling := o.failures.active(runKey(domain, o.deps.Canonicalizer.Canonical(text)), o.now())
	if cooling {
		return false, rec.RetryAfter
	}
	return true, time.Time{}
}
