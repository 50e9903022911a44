package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type (
	Collection = collection
	Client     = client
)

// NewForTests returns a Manager working on coll, without any connection.
func NewForTests(c Client, coll Collection) *Manager {
	return &Manager{client: c, coll: coll}
}

// WithConnect overrides how the client and collection are created.
func WithConnect(connect func(ctx context.Context, cfg Config) (Client, Collection, error)) Options {
	return func(o *managerOptions) {
		o.connect = connect
	}
}

// ToDocument exposes the stored document layout of a reading.
var ToDocument = toDocument

// FilterDocument exposes the query filter built for a readings filter.
var FilterDocument = filterDocument

// FromDocument exposes the document to reading mapping.
var FromDocument = fromDocument

// NewestFirst is the sort order of listing queries.
var NewestFirst = newestFirst

// FakeClient is a client whose calls return the configured errors.
type FakeClient struct {
	PingErr       error
	DisconnectErr error

	Disconnected bool
}

// Ping implements client.
func (c *FakeClient) Ping(context.Context, *readpref.ReadPref) error { return c.PingErr }

// Disconnect implements client.
func (c *FakeClient) Disconnect(context.Context) error {
	c.Disconnected = true
	return c.DisconnectErr
}

// FakeCollection records the queries it receives and answers with Docs.
type FakeCollection struct {
	Docs []any
	Err  error

	Inserted   []any
	InsertedID any
	Filter     any
	FindOpts   *options.FindOptions
	FindOneOpt *options.FindOneOptions
}

// InsertOne implements collection.
func (c *FakeCollection) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.Inserted = append(c.Inserted, doc)
	return &mongo.InsertOneResult{InsertedID: c.InsertedID}, nil
}

// Find implements collection.
func (c *FakeCollection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	c.Filter = filter
	if len(opts) > 0 {
		c.FindOpts = opts[0]
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return mongo.NewCursorFromDocuments(c.Docs, nil, nil)
}

// FindOne implements collection.
func (c *FakeCollection) FindOne(_ context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	c.Filter = filter
	if len(opts) > 0 {
		c.FindOneOpt = opts[0]
	}
	if c.Err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, c.Err, nil)
	}
	if len(c.Docs) == 0 {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(c.Docs[0], nil, nil)
}
