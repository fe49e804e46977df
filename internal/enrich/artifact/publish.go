package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Laisky/keyword-enricher/library/log"
)

// Renderer turns an artifact into a markdown document.
type Renderer func(a *Artifact) (string, error)

// objectPutter is satisfied by *minio.Client.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader,
		objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectPublisher uploads rendered snapshots of new artifacts.
type ObjectPublisher struct {
	client objectPutter
	bucket string
	render Renderer
}

// PublisherConfig connects an ObjectPublisher to an s3 compatible service.
type PublisherConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewObjectPublisher creates an ObjectPublisher backed by minio.
func NewObjectPublisher(cfg PublisherConfig, render Renderer) (*ObjectPublisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("publish bucket is empty")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client")
	}
	return newObjectPublisher(client, cfg.Bucket, render)
}

func newObjectPublisher(client objectPutter, bucket string, render Renderer) (*ObjectPublisher, error) {
	if render == nil {
		return nil, errors.New("renderer is nil")
	}
	return &ObjectPublisher{client: client, bucket: bucket, render: render}, nil
}

// ObjectPrefix is the folder of a keyword's snapshots.
func ObjectPrefix(a *Artifact) string {
	return a.Domain + "/" + url.PathEscape(strings.ReplaceAll(a.Keyword, " ", "-"))
}

// Publish uploads <domain>/<keyword>/v<version>.md and latest.md.
func (p *ObjectPublisher) Publish(ctx context.Context, a *Artifact) error {
	doc, err := p.render(a)
	if err != nil {
		return errors.Wrapf(err, "render artifact %s", a.ID)
	}

	prefix := ObjectPrefix(a)
	for _, name := range []string{fmt.Sprintf("%s/v%d.md", prefix, a.Version), prefix + "/latest.md"} {
		if _, err := p.client.PutObject(ctx, p.bucket, name, strings.NewReader(doc), int64(len(doc)),
			minio.PutObjectOptions{ContentType: "text/markdown; charset=utf-8"}); err != nil {
			return errors.Wrapf(err, "put object %s", name)
		}
	}
	return nil
}

// PublishingStore publishes every artifact after it is committed.
// A failed upload is logged and never fails the append.
type PublishingStore struct {
	Store
	publisher *ObjectPublisher
	logger    logSDK.Logger
}

// NewPublishingStore wraps store.
func NewPublishingStore(store Store, publisher *ObjectPublisher, logger logSDK.Logger) *PublishingStore {
	if logger == nil {
		logger = log.Logger.Named("artifact_publisher")
	}
	return &PublishingStore{Store: store, publisher: publisher, logger: logger}
}

// Append implements Store.
func (s *PublishingStore) Append(ctx context.Context, a *Artifact) error {
	if err := s.Store.Append(ctx, a); err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, a); err != nil {
		s.logger.Warn("publish artifact snapshot",
			zap.String("keyword", a.Keyword),
			zap.Int("version", a.Version),
			zap.Error(err))
	}
	return nil
}
