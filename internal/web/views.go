package web

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/jinzhu/copier"

	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/pipeline"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

// ArtifactView is the public shape of an artifact.
type ArtifactView struct {
	ID            string            `json:"id"`
	Keyword       string            `json:"keyword"`
	Domain        string            `json:"domain"`
	Version       int               `json:"version"`
	SchemaVersion string            `json:"schema_version"`
	Fields        map[string]any    `json:"fields"`
	Citations     []schema.Citation `json:"citations"`
	ContentHash   string            `json:"content_hash"`
	Status        artifact.Status   `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// EnrichView answers POST /enrich.
type EnrichView struct {
	Artifact   *ArtifactView `json:"artifact"`
	CacheHit   bool          `json:"cache_hit"`
	Reused     bool          `json:"reused"`
	Shared     bool          `json:"shared"`
	Repaired   bool          `json:"repaired"`
	Repairs    []string      `json:"repairs,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

func newArtifactView(a *artifact.Artifact) (*ArtifactView, error) {
	view := new(ArtifactView)
	if err := copier.CopyWithOption(view, a, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(err, "copy artifact view")
	}
	return view, nil
}

func newArtifactViews(items []*artifact.Artifact) ([]*ArtifactView, error) {
	views := make([]*ArtifactView, 0, len(items))
	for _, a := range items {
		view, err := newArtifactView(a)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func newEnrichView(out *pipeline.Outcome) (*EnrichView, error) {
	view := &EnrichView{
		CacheHit:   out.CacheHit,
		Reused:     out.Reused,
		Shared:     out.Shared,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Post != nil {
		view.Repaired = out.Post.Repaired
		view.Repairs = out.Post.Repairs
	}

	var err error
	if view.Artifact, err = newArtifactView(out.Artifact); err != nil {
		return nil, err
	}
	return view, nil
}
