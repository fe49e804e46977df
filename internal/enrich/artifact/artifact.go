// Package artifact defines the persisted output of an enrichment run and the
// versioned, append-only stores that keep it.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"

	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

var (
	// ErrVersionConflict is returned by Append when the version is not latest+1.
	ErrVersionConflict = errors.New("artifact version conflict")
	// ErrNotFound is returned when no artifact matches.
	ErrNotFound = errors.New("artifact not found")
)

// Status tells how an artifact passed validation.
type Status string

const (
	StatusValid    Status = "valid"
	StatusRepaired Status = "repaired"
)

// Artifact is one validated version of a keyword's report.
// Stored artifacts are never modified, corrections are new versions.
type Artifact struct {
	ID            string            `json:"id"`
	Keyword       string            `json:"keyword"`
	Domain        string            `json:"domain"`
	Version       int               `json:"version"`
	SchemaName    string            `json:"schema_name"`
	SchemaVersion string            `json:"schema_version"`
	PromptHash    string            `json:"prompt_hash"`
	Fields        map[string]any    `json:"fields"`
	Citations     []schema.Citation `json:"citations"`
	ContentHash   string            `json:"content_hash"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewID returns a time ordered artifact id.
func NewID() string {
	return gutils.UUID7()
}

// ContentHash addresses fields and citations. Map keys are encoded sorted,
// so equal content always hashes equally.
func ContentHash(fields map[string]any, citations []schema.Citation) string {
	raw, err := json.Marshal(struct {
		Fields    map[string]any    `json:"fields"`
		Citations []schema.Citation `json:"citations"`
	}{fields, citations})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of a.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Citations = make([]schema.Citation, 0, len(a.Citations))
	for _, c := range a.Citations {
		cp.Citations = append(cp.Citations, schema.Citation{URL: c.URL, Claims: append([]string(nil), c.Claims...)})
	}
	if a.Fields != nil {
		cp.Fields = map[string]any{}
		if raw, err := json.Marshal(a.Fields); err == nil {
			_ = json.Unmarshal(raw, &cp.Fields)
		}
	}
	return &cp
}

// validate checks what every store requires before a write.
func (a *Artifact) validate() error {
	switch {
	case a == nil:
		return errors.New("artifact is nil")
	case a.Keyword == "":
		return errors.New("artifact keyword is empty")
	case a.Version < 1:
		return errors.Errorf("artifact version must be positive, got %d", a.Version)
	case a.Status != StatusValid && a.Status != StatusRepaired:
		return errors.Errorf("artifact status %q is not persistable", a.Status)
	}
	return nil
}

// prepare fills derived fields before a write.
func (a *Artifact) prepare(now time.Time) {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.ContentHash == "" {
		a.ContentHash = ContentHash(a.Fields, a.Citations)
	}
}

// Query filters List.
type Query struct {
	Domain string
	From   time.Time
	To     time.Time
	Limit  int
}

const defaultListLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 1000 {
		return defaultListLimit
	}
	return q.Limit
}

func (q Query) match(a *Artifact) bool {
	if q.Domain != "" && a.Domain != q.Domain {
		return false
	}
	if !q.From.IsZero() && a.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !a.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// Store is the persistence boundary.
//
// Append publishes a atomically: readers see either nothing or the whole
// artifact. It fails with ErrVersionConflict unless a.Version is exactly the
// latest stored version of a.Keyword plus one.
type Store interface {
	Append(ctx context.Context, a *Artifact) error
	// Latest returns ErrNotFound when the keyword has no artifact.
	Latest(ctx context.Context, keyword string) (*Artifact, error)
	Get(ctx context.Context, keyword string, version int) (*Artifact, error)
	// List returns matching artifacts, newest first.
	List(ctx context.Context, q Query) ([]*Artifact, error)
}

func conflict(keyword string, want, latest int) error {
	return errors.Wrapf(ErrVersionConflict, "keyword %q: version %d, latest is %d", keyword, want, latest)
}
