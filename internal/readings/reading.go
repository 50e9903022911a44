// Package readings holds the sensor reading model, its validation rules and the service
// that stores and queries readings.
package readings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/lightcar-iot/lightcar/internal/constants"
)

// Reading is a stored sensor measurement.
type Reading struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Timestamp  string    `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// Inbound is a reading as submitted by a device, before normalization.
type Inbound struct {
	DeviceID   string  `mapstructure:"device_id" json:"device_id"`
	SensorType string  `mapstructure:"sensor_type" json:"sensor_type"`
	Value      float64 `mapstructure:"value" json:"value"`
	Unit       string  `mapstructure:"unit" json:"unit"`
	// Timestamp is kept verbatim when set. It is generated when nil or empty.
	Timestamp *string `mapstructure:"timestamp" json:"timestamp,omitempty"`
}

var requiredFields = []string{"device_id", "sensor_type", "value", "unit"}

// Decode parses and validates a JSON reading payload.
//
// Required fields must be present and non null. Types are strictly enforced: value must be a JSON
// number and every other field a JSON string. Unknown fields are ignored.
func Decode(data []byte) (Inbound, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: body is not a valid JSON object: %v", ErrInvalidInput, err)
	}
	if raw == nil {
		return Inbound{}, fmt.Errorf("%w: body must be a JSON object", ErrInvalidInput)
	}

	var missing []error
	for _, f := range requiredFields {
		if v, ok := raw[f]; !ok || v == nil {
			missing = append(missing, fmt.Errorf("field %q is required", f))
		}
	}
	if len(missing) > 0 {
		return Inbound{}, fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(missing...))
	}

	var in Inbound
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: false,
		Result:           &in,
	})
	if err != nil {
		return Inbound{}, fmt.Errorf("failed to create decoder: %v", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return in, nil
}

// Normalize turns a validated inbound reading into a reading ready to be stored.
// The identifier is left empty, the store assigns it.
func (in Inbound) Normalize(now time.Time) Reading {
	now = now.UTC()

	ts := now.Format(constants.TimestampLayout)
	if in.Timestamp != nil && *in.Timestamp != "" {
		ts = *in.Timestamp
	}

	return Reading{
		DeviceID:   in.DeviceID,
		SensorType: in.SensorType,
		Value:      in.Value,
		Unit:       in.Unit,
		Timestamp:  ts,
		// Stored instants have millisecond precision.
		CreatedAt: now.Truncate(time.Millisecond),
	}
}
