// Package store persists sensor readings in a MongoDB collection.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightcar-iot/lightcar/internal/constants"
	"github.com/lightcar-iot/lightcar/internal/readings"
	"github.com/ubuntu/decorate"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const opTimeout = 10 * time.Second

// Config holds the configuration for connecting to the document store.
type Config struct {
	URI    string
	DBName string
}

type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type client interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
}

// Manager manages the document store client and the readings collection.
type Manager struct {
	client client
	coll   collection
}

type managerOptions struct {
	connect func(ctx context.Context, cfg Config) (client, collection, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*managerOptions)

// New connects to the document store and validates the connection with a ping.
// The returned Manager is safe for concurrent use and must be closed.
func New(ctx context.Context, cfg Config, args ...Options) (m *Manager, err error) {
	defer decorate.OnError(&err, "could not connect to document store")

	opts := managerOptions{
		connect: func(ctx context.Context, cfg Config) (client, collection, error) {
			c, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(opTimeout))
			if err != nil {
				return nil, nil, err
			}
			return c, c.Database(cfg.DBName).Collection(constants.ReadingsCollection), nil
		},
	}
	for _, opt := range args {
		opt(&opts)
	}

	if cfg.URI == "" {
		return nil, fmt.Errorf("connection string is required, set %s", constants.MongoURIEnv)
	}
	if cfg.DBName == "" {
		cfg.DBName = constants.DefaultDBName
	}

	c, coll, err := opts.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.Debug("Testing document store connection", "db", cfg.DBName)
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.Ping(pingCtx, readpref.Primary()); err != nil {
		dCtx, dCancel := context.WithTimeout(context.Background(), opTimeout)
		defer dCancel()
		return nil, errors.Join(fmt.Errorf("ping failed: %w", err), c.Disconnect(dCtx))
	}
	slog.Info("Connected to document store", "db", cfg.DBName, "collection", constants.ReadingsCollection)

	return &Manager{client: c, coll: coll}, nil
}

// Insert stores r and returns the identifier assigned to it.
func (m Manager) Insert(ctx context.Context, r readings.Reading) (id string, err error) {
	defer decorate.OnError(&err, "could not insert reading")

	if m.coll == nil {
		return "", errors.New("document store not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := m.coll.InsertOne(ctx, toDocument(r))
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected identifier type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// List returns at most limit readings matching f, newest first.
func (m Manager) List(ctx context.Context, f readings.Filter, limit int) (rs []readings.Reading, err error) {
	defer decorate.OnError(&err, "could not list readings")

	if m.coll == nil {
		return nil, errors.New("document store not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(newestFirst).SetLimit(int64(limit))
	cur, err := m.coll.Find(ctx, filterDocument(f), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	rs = []readings.Reading{}
	for cur.Next(ctx) {
		r, err := fromDocument(cur.Current)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Latest returns the newest reading of deviceID.
func (m Manager) Latest(ctx context.Context, deviceID string) (r readings.Reading, err error) {
	defer decorate.OnError(&err, "could not find latest reading")

	opts := options.FindOne().SetSort(newestFirst)
	return m.findOne(ctx, bson.D{{Key: fieldDeviceID, Value: deviceID}}, opts)
}

// Get returns the reading with the given hexadecimal identifier.
func (m Manager) Get(ctx context.Context, id string) (r readings.Reading, err error) {
	defer decorate.OnError(&err, "could not get reading")

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return readings.Reading{}, fmt.Errorf("%w: %q is not a valid identifier", readings.ErrInvalidInput, id)
	}
	return m.findOne(ctx, bson.D{{Key: fieldID, Value: oid}})
}

func (m Manager) findOne(ctx context.Context, filter bson.D, opts ...*options.FindOneOptions) (readings.Reading, error) {
	if m.coll == nil {
		return readings.Reading{}, errors.New("document store not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := m.coll.FindOne(ctx, filter, opts...).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return readings.Reading{}, readings.ErrNotFound
	}
	if err != nil {
		return readings.Reading{}, err
	}
	return fromDocument(raw)
}

// Close disconnects from the document store.
//
// If the client is already closed, it does nothing.
// If the client does not disconnect within 10 seconds, it returns an error.
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("could not disconnect from document store: %w", err)
	}
	m.client = nil
	m.coll = nil
	return nil
}
