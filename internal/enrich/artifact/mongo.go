package artifact

import (
	"context"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	"go.mongodb.org/mongo-driver/bson"
	mongoLib "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

// ColArtifacts is the mongo collection of artifacts.
const ColArtifacts = "artifacts"

// mongoDoc is the mongo layout of an Artifact. Fields stay json encoded,
// so nested values come back as plain maps and slices.
type mongoDoc struct {
	ID            string            `bson:"_id"`
	Keyword       string            `bson:"keyword"`
	Domain        string            `bson:"domain"`
	Version       int               `bson:"version"`
	SchemaName    string            `bson:"schema_name"`
	SchemaVersion string            `bson:"schema_version"`
	PromptHash    string            `bson:"prompt_hash"`
	Fields        string            `bson:"fields"`
	Citations     []schema.Citation `bson:"citations"`
	ContentHash   string            `bson:"content_hash"`
	Status        string            `bson:"status"`
	CreatedAt     time.Time         `bson:"created_at"`
}

func toMongoDoc(a *Artifact) (*mongoDoc, error) {
	fields, err := json.Marshal(a.Fields)
	if err != nil {
		return nil, errors.Wrap(err, "marshal artifact fields")
	}
	return &mongoDoc{
		ID:            a.ID,
		Keyword:       a.Keyword,
		Domain:        a.Domain,
		Version:       a.Version,
		SchemaName:    a.SchemaName,
		SchemaVersion: a.SchemaVersion,
		PromptHash:    a.PromptHash,
		Fields:        string(fields),
		Citations:     a.Citations,
		ContentHash:   a.ContentHash,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
	}, nil
}

func (d *mongoDoc) toArtifact() (*Artifact, error) {
	a := &Artifact{
		ID:            d.ID,
		Keyword:       d.Keyword,
		Domain:        d.Domain,
		Version:       d.Version,
		SchemaName:    d.SchemaName,
		SchemaVersion: d.SchemaVersion,
		PromptHash:    d.PromptHash,
		Citations:     d.Citations,
		ContentHash:   d.ContentHash,
		Status:        Status(d.Status),
		CreatedAt:     d.CreatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(d.Fields), &a.Fields); err != nil {
		return nil, errors.Wrapf(err, "decode fields of artifact %s", d.ID)
	}
	if a.Citations == nil {
		a.Citations = []schema.Citation{}
	}
	return a, nil
}

// MongoStore persists artifacts in mongo. A unique (keyword, version) index
// arbitrates concurrent appends, single document inserts are atomic.
type MongoStore struct {
	col *mongoLib.Collection
	now func() time.Time
}

// NewMongoStore creates a MongoStore over col.
func NewMongoStore(col *mongoLib.Collection) (*MongoStore, error) {
	if col == nil {
		return nil, errors.New("mongo collection is nil")
	}
	return &MongoStore{
		col: col,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureIndexes creates the indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongoLib.IndexModel{
		{
			Keys:    bson.D{{Key: "keyword", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_keyword_version"),
		},
		{
			Keys:    bson.D{{Key: "domain", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("domain_created_at"),
		},
	})
	if err != nil {
		return errors.Wrap(err, "create artifact indexes")
	}
	return nil
}

// Append implements Store.
func (s *MongoStore) Append(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	a.prepare(s.now())

	latest := 0
	switch cur, err := s.Latest(ctx, a.Keyword); {
	case err == nil:
		latest = cur.Version
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if a.Version != latest+1 {
		return conflict(a.Keyword, a.Version, latest)
	}

	doc, err := toMongoDoc(a)
	if err != nil {
		return err
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		if mongoLib.IsDuplicateKeyError(err) {
			return conflict(a.Keyword, a.Version, latest)
		}
		return errors.Wrapf(err, "insert artifact %s v%d", a.Keyword, a.Version)
	}
	return nil
}

// Latest implements Store.
func (s *MongoStore) Latest(ctx context.Context, keyword string) (*Artifact, error) {
	return s.findOne(ctx, bson.M{"keyword": keyword},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}))
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, keyword string, version int) (*Artifact, error) {
	return s.findOne(ctx, bson.M{"keyword": keyword, "version": version})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Artifact, error) {
	doc := new(mongoDoc)
	if err := s.col.FindOne(ctx, filter, opts...).Decode(doc); err != nil {
		if errors.Is(err, mongoLib.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "find artifact")
	}
	return doc.toArtifact()
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context, q Query) ([]*Artifact, error) {
	filter := bson.M{}
	if q.Domain != "" {
		filter["domain"] = q.Domain
	}
	created := bson.M{}
	if !q.From.IsZero() {
		created["$gte"] = q.From
	}
	if !q.To.IsZero() {
		created["$lt"] = q.To
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	cur, err := s.col.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "keyword", Value: 1}, {Key: "version", Value: -1}}).
		SetLimit(int64(q.limit())))
	if err != nil {
		return nil, errors.Wrap(err, "list artifacts")
	}

	var docs []mongoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode artifacts")
	}
	out := make([]*Artifact, 0, len(docs))
	for i := range docs {
		a, err := docs[i].toArtifact()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
