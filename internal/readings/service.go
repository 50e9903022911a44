package readings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightcar-iot/lightcar/internal/constants"
)

// Filter selects readings by exact match. Empty fields are ignored.
type Filter struct {
	DeviceID   string
	SensorType string
}

// Store persists and queries readings.
type Store interface {
	// Insert stores r and returns its newly assigned identifier.
	Insert(ctx context.Context, r Reading) (string, error)
	// List returns at most limit readings matching f, newest first.
	List(ctx context.Context, f Filter, limit int) ([]Reading, error)
	// Latest returns the newest reading of a device or ErrNotFound.
	Latest(ctx context.Context, deviceID string) (Reading, error)
	// Get returns the reading with the given identifier, ErrNotFound if absent or ErrInvalidInput
	// if the identifier is malformed.
	Get(ctx context.Context, id string) (Reading, error)
}

// DeviceFilter decides whether a device may submit readings.
type DeviceFilter interface {
	IsAllowed(deviceID string) bool
}

// Service validates readings and runs queries against a Store.
type Service struct {
	store   Store
	devices DeviceFilter
	now     func() time.Time
	log     *slog.Logger
}

type options struct {
	devices DeviceFilter
	now     func() time.Time
	logger  *slog.Logger
}

// Options represents an optional function to override Service default values.
type Options func(*options)

// WithDeviceFilter restricts ingestion to the devices accepted by f.
func WithDeviceFilter(f DeviceFilter) Options {
	return func(o *options) {
		o.devices = f
	}
}

// WithLogger sets the logger used by the service.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a Service backed by store.
func New(store Store, args ...Options) *Service {
	opts := options{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Service{
		store:   store,
		devices: opts.devices,
		now:     opts.now,
		log:     opts.logger,
	}
}

// Create normalizes and stores an inbound reading, returning it as stored.
func (s Service) Create(ctx context.Context, in Inbound) (Reading, error) {
	if s.devices != nil && !s.devices.IsAllowed(in.DeviceID) {
		return Reading{}, fmt.Errorf("%w: %q", ErrForbidden, in.DeviceID)
	}

	r := in.Normalize(s.now())
	id, err := s.store.Insert(ctx, r)
	if err != nil {
		return Reading{}, fmt.Errorf("could not store reading: %w", err)
	}
	r.ID = id

	s.log.Debug("Reading stored", "id", id, "device_id", r.DeviceID, "sensor_type", r.SensorType)
	return r, nil
}

// List returns the most recent readings matching f. A limit of 0 selects the default.
func (s Service) List(ctx context.Context, f Filter, limit int) ([]Reading, error) {
	if limit == 0 {
		limit = constants.DefaultListLimit
	}
	if limit < 1 || limit > constants.MaxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidInput, constants.MaxListLimit, limit)
	}

	rs, err := s.store.List(ctx, f, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list readings: %w", err)
	}
	if rs == nil {
		rs = []Reading{}
	}
	return rs, nil
}

// Latest returns the most recent reading of deviceID.
func (s Service) Latest(ctx context.Context, deviceID string) (Reading, error) {
	if deviceID == "" {
		return Reading{}, fmt.Errorf("%w: device id is required", ErrInvalidInput)
	}

	r, err := s.store.Latest(ctx, deviceID)
	if err != nil {
		return Reading{}, fmt.Errorf("could not get latest reading of %q: %w", deviceID, err)
	}
	return r, nil
}

// Get returns a reading by identifier.
func (s Service) Get(ctx context.Context, id string) (Reading, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Reading{}, fmt.Errorf("could not get reading %q: %w", id, err)
	}
	return r, nil
}
