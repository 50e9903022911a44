package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/lightcar-iot/lightcar/internal/metrics"
	"github.com/lightcar-iot/lightcar/internal/readings"
)

// Service is the reading service used by the handlers.
type Service interface {
	Create(ctx context.Context, in readings.Inbound) (readings.Reading, error)
	List(ctx context.Context, f readings.Filter, limit int) ([]readings.Reading, error)
	Latest(ctx context.Context, deviceID string) (readings.Reading, error)
	Get(ctx context.Context, id string) (readings.Reading, error)
}

// Readings serves the ingestion and query endpoints.
type Readings struct {
	svc           Service
	maxUploadSize int64
}

// ListData is the payload of a list response.
type ListData struct {
	Readings []readings.Reading `json:"readings"`
	Total    int                `json:"total"`
}

// NewReadings creates the reading handlers. Request bodies larger than maxUploadSize are rejected.
func NewReadings(svc Service, maxUploadSize int64) *Readings {
	return &Readings{
		svc:           svc,
		maxUploadSize: maxUploadSize,
	}
}

// Create stores the reading in the request body.
func (h *Readings) Create(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		if mbErr := (*http.MaxBytesError)(nil); errors.As(err, &mbErr) {
			slog.Info("Request body too large", "req_id", reqID, "limit", mbErr.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, Envelope{
				Message: fmt.Sprintf("request body exceeds %d bytes", mbErr.Limit),
			})
			return
		}
		writeError(w, reqID, fmt.Errorf("%w: failed to read request body: %v", readings.ErrInvalidInput, err))
		return
	}

	in, err := readings.Decode(data)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	stored, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	slog.Info("Reading stored", "req_id", reqID, "id", stored.ID, "device_id", stored.DeviceID)
	writeSuccess(w, http.StatusCreated, "Reading stored", stored)
}

// List returns the most recent readings, optionally filtered by device and sensor type.
func (h *Readings) List(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.New().String()

	q := r.URL.Query()
	var limit int
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, reqID, fmt.Errorf("%w: limit must be a positive integer, got %q", readings.ErrInvalidInput, v))
			return
		}
		limit = n
	}

	f := readings.Filter{
		DeviceID:   q.Get("device_id"),
		SensorType: q.Get("sensor_type"),
	}
	rs, err := h.svc.List(r.Context(), f, limit)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	writeSuccess(w, http.StatusOK, fmt.Sprintf("%d readings found", len(rs)), ListData{Readings: rs, Total: len(rs)})
}

// Latest returns the most recent reading of the device in the path.
func (h *Readings) Latest(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.New().String()

	deviceID := r.PathValue("device_id")
	reading, err := h.svc.Latest(r.Context(), deviceID)
	if errors.Is(err, readings.ErrNotFound) {
		err = fmt.Errorf("%w: no readings found for device %q", readings.ErrNotFound, deviceID)
	}
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Latest reading found", reading)
}

// Get returns the reading whose identifier is in the path.
func (h *Readings) Get(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.New().String()

	id := r.PathValue("id")
	reading, err := h.svc.Get(r.Context(), id)
	switch {
	case errors.Is(err, readings.ErrInvalidInput):
		err = fmt.Errorf("%w: %q is not a valid reading identifier", readings.ErrInvalidInput, id)
	case errors.Is(err, readings.ErrNotFound):
		err = fmt.Errorf("%w: no reading found with id %q", readings.ErrNotFound, id)
	}
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Reading found", reading)
}
