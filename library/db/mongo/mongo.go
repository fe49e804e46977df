// Package mongo opens the mongo database artifacts are stored in.
package mongo

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Laisky/keyword-enricher/library/log"
)

const defaultTimeout = 30 * time.Second

var (
	connectMongo = func(ctx context.Context, clientOpts *options.ClientOptions) (*mongo.Client, error) {
		return mongo.Connect(ctx, clientOpts)
	}
	pingMongo = func(ctx context.Context, cli *mongo.Client) error {
		return cli.Ping(ctx, readpref.Primary())
	}
	disconnectMongo = func(ctx context.Context, cli *mongo.Client) error {
		return cli.Disconnect(ctx)
	}
)

// DB is one database of a connected client.
type DB struct {
	cli  *mongo.Client
	name string
}

// Open connects to uri and pings the primary before returning.
func Open(ctx context.Context, uri, database string) (*DB, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if strings.TrimSpace(database) == "" {
		return nil, errors.New("mongo database is empty")
	}

	log.Logger.Info("try to connect to mongodb",
		zap.String("addr", redactURI(uri)),
		zap.String("db", database))

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(defaultTimeout).
		SetServerSelectionTimeout(defaultTimeout).
		SetRetryReads(true).
		SetRetryWrites(true).
		SetMaxPoolSize(100).
		SetMaxConnecting(2).
		SetMaxConnIdleTime(300 * time.Second)

	cli, err := connectMongo(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connect db")
	}
	if err := pingMongo(ctx, cli); err != nil {
		_ = disconnectMongo(context.Background(), cli)
		return nil, errors.Wrap(err, "ping db")
	}

	return &DB{cli: cli, name: database}, nil
}

// Database returns the opened database.
func (d *DB) Database() *mongo.Database {
	return d.cli.Database(d.name)
}

// Collection returns a collection of the opened database.
func (d *DB) Collection(name string) *mongo.Collection {
	return d.Database().Collection(name)
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	if d == nil || d.cli == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := disconnectMongo(ctx, d.cli); err != nil {
		return errors.Wrap(err, "disconnect mongo")
	}
	return nil
}

// redactURI drops credentials from uri for logging.
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
