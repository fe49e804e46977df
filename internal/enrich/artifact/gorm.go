package artifact

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

// Row is the relational layout of an Artifact.
type Row struct {
	ID            string         `gorm:"primaryKey;size:64"`
	Keyword       string         `gorm:"size:512;not null;uniqueIndex:idx_artifacts_keyword_version,priority:1"`
	Version       int            `gorm:"not null;uniqueIndex:idx_artifacts_keyword_version,priority:2"`
	Domain        string         `gorm:"size:64;not null;index:idx_artifacts_domain_created,priority:1"`
	SchemaName    string         `gorm:"size:64;not null"`
	SchemaVersion string         `gorm:"size:32;not null"`
	PromptHash    string         `gorm:"size:64;not null"`
	Fields        datatypes.JSON `gorm:"not null"`
	Citations     datatypes.JSON `gorm:"not null"`
	ContentHash   string         `gorm:"size:64;not null"`
	Status        string         `gorm:"size:16;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_artifacts_domain_created,priority:2"`
}

// TableName implements gorm's tabler.
func (Row) TableName() string {
	return "artifacts"
}

func toRow(a *Artifact) (*Row, error) {
	fields, err := json.Marshal(a.Fields)
	if err != nil {
		return nil, errors.Wrap(err, "marshal artifact fields")
	}
	citations, err := json.Marshal(a.Citations)
	if err != nil {
		return nil, errors.Wrap(err, "marshal artifact citations")
	}
	return &Row{
		ID:            a.ID,
		Keyword:       a.Keyword,
		Version:       a.Version,
		Domain:        a.Domain,
		SchemaName:    a.SchemaName,
		SchemaVersion: a.SchemaVersion,
		PromptHash:    a.PromptHash,
		Fields:        fields,
		Citations:     citations,
		ContentHash:   a.ContentHash,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
	}, nil
}

func (r *Row) toArtifact() (*Artifact, error) {
	a := &Artifact{
		ID:            r.ID,
		Keyword:       r.Keyword,
		Version:       r.Version,
		Domain:        r.Domain,
		SchemaName:    r.SchemaName,
		SchemaVersion: r.SchemaVersion,
		PromptHash:    r.PromptHash,
		ContentHash:   r.ContentHash,
		Status:        Status(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Fields, &a.Fields); err != nil {
		return nil, errors.Wrapf(err, "decode fields of artifact %s", r.ID)
	}
	a.Citations = []schema.Citation{}
	if err := json.Unmarshal(r.Citations, &a.Citations); err != nil {
		return nil, errors.Wrapf(err, "decode citations of artifact %s", r.ID)
	}
	return a, nil
}

// GormStore persists artifacts through gorm on postgres or sqlite.
// Every append runs in one transaction, so readers only see committed rows.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm db is nil")
	}
	return &GormStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates or updates the artifacts table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Row{}); err != nil {
		return errors.Wrap(err, "migrate artifacts")
	}
	return nil
}

// Append implements Store.
func (s *GormStore) Append(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	a.prepare(s.now())
	row, err := toRow(a)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockKeyword(tx, a.Keyword); err != nil {
			return err
		}

		var latest int
		if err := tx.Model(&Row{}).
			Select("COALESCE(MAX(version), 0)").
			Where("keyword = ?", a.Keyword).
			Scan(&latest).Error; err != nil {
			return errors.Wrap(err, "read latest version")
		}
		if a.Version != latest+1 {
			return conflict(a.Keyword, a.Version, latest)
		}

		if err := tx.Create(row).Error; err != nil {
			if isDuplicate(err) {
				return conflict(a.Keyword, a.Version, latest)
			}
			return errors.Wrap(err, "insert artifact")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return errors.Wrapf(err, "append artifact %s v%d", a.Keyword, a.Version)
	}
	return nil
}

// Latest implements Store.
func (s *GormStore) Latest(ctx context.Context, keyword string) (*Artifact, error) {
	var row Row
	err := s.db.WithContext(ctx).
		Where("keyword = ?", keyword).
		Order("version DESC").
		Take(&row).Error
	return s.found(row, err)
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, keyword string, version int) (*Artifact, error) {
	var row Row
	err := s.db.WithContext(ctx).
		Where("keyword = ? AND version = ?", keyword, version).
		Take(&row).Error
	return s.found(row, err)
}

func (s *GormStore) found(row Row, err error) (*Artifact, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "query artifact")
	}
	return row.toArtifact()
}

// List implements Store.
func (s *GormStore) List(ctx context.Context, q Query) ([]*Artifact, error) {
	tx := s.db.WithContext(ctx).Model(&Row{})
	if q.Domain != "" {
		tx = tx.Where("domain = ?", q.Domain)
	}
	if !q.From.IsZero() {
		tx = tx.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("created_at < ?", q.To)
	}

	var rows []Row
	if err := tx.
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Order("keyword").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "version"}, Desc: true}).
		Limit(q.limit()).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list artifacts")
	}

	out := make([]*Artifact, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toArtifact()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// lockKeyword serializes appends of one keyword on postgres.
// Other dialects rely on the transaction and the unique index.
func lockKeyword(tx *gorm.DB, keyword string) error {
	if !isPostgresDialect(tx) {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", lockKey(keyword)).Error; err != nil {
		return errors.Wrap(err, "acquire advisory lock")
	}
	return nil
}

func lockKey(keyword string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("artifact:"))
	_, _ = h.Write([]byte(keyword))
	return int64(h.Sum64())
}

func isPostgresDialect(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return strings.EqualFold(db.Dialector.Name(), "postgres")
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value")
}
