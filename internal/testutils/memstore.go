package testutils

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/lightcar-iot/lightcar/internal/readings"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-memory readings.Store. Identifiers have the same format as the
// document store ones. Set Err to make every call fail.
type MemoryStore struct {
	Err error

	mu       sync.Mutex
	readings []readings.Reading
}

// NewMemoryStore returns a MemoryStore holding rs, in insertion order.
func NewMemoryStore(rs ...readings.Reading) *MemoryStore {
	return &MemoryStore{readings: slices.Clone(rs)}
}

// Insert implements readings.Store.
func (s *MemoryStore) Insert(_ context.Context, r readings.Reading) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}

	r.ID = primitive.NewObjectID().Hex()
	s.readings = append(s.readings, r)
	return r.ID, nil
}

// List implements readings.Store.
func (s *MemoryStore) List(_ context.Context, f readings.Filter, limit int) ([]readings.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []readings.Reading
	for _, r := range s.newestFirst() {
		if len(out) == limit {
			break
		}
		if f.DeviceID != "" && r.DeviceID != f.DeviceID {
			continue
		}
		if f.SensorType != "" && r.SensorType != f.SensorType {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Latest implements readings.Store.
func (s *MemoryStore) Latest(_ context.Context, deviceID string) (readings.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return readings.Reading{}, s.Err
	}

	for _, r := range s.newestFirst() {
		if r.DeviceID == deviceID {
			return r, nil
		}
	}
	return readings.Reading{}, readings.ErrNotFound
}

// Get implements readings.Store.
func (s *MemoryStore) Get(_ context.Context, id string) (readings.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return readings.Reading{}, s.Err
	}

	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return readings.Reading{}, fmt.Errorf("%w: %v", readings.ErrInvalidInput, err)
	}
	for _, r := range s.readings {
		if r.ID == id {
			return r, nil
		}
	}
	return readings.Reading{}, readings.ErrNotFound
}

// All returns a copy of the stored readings, in insertion order.
func (s *MemoryStore) All() []readings.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.readings)
}

// newestFirst sorts by creation time, the latest insertion winning ties.
func (s *MemoryStore) newestFirst() []readings.Reading {
	out := slices.Clone(s.readings)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b readings.Reading) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}
