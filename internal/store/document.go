package store

import (
	"errors"
	"fmt"

	"github.com/lightcar-iot/lightcar/internal/readings"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrMalformedDocument is returned when a stored document does not hold a valid reading.
var ErrMalformedDocument = errors.New("malformed reading document")

const (
	fieldID         = "_id"
	fieldDeviceID   = "device_id"
	fieldSensorType = "sensor_type"
	fieldValue      = "value"
	fieldUnit       = "unit"
	fieldTimestamp  = "timestamp"
	fieldCreatedAt  = "created_at"
)

// newestFirst orders by insertion time, then by identifier for readings inserted in the same millisecond.
var newestFirst = bson.D{{Key: fieldCreatedAt, Value: -1}, {Key: fieldID, Value: -1}}

func toDocument(r readings.Reading) bson.D {
	return bson.D{
		{Key: fieldDeviceID, Value: r.DeviceID},
		{Key: fieldSensorType, Value: r.SensorType},
		{Key: fieldValue, Value: r.Value},
		{Key: fieldUnit, Value: r.Unit},
		{Key: fieldTimestamp, Value: r.Timestamp},
		{Key: fieldCreatedAt, Value: primitive.NewDateTimeFromTime(r.CreatedAt)},
	}
}

func filterDocument(f readings.Filter) bson.D {
	filter := bson.D{}
	if f.DeviceID != "" {
		filter = append(filter, bson.E{Key: fieldDeviceID, Value: f.DeviceID})
	}
	if f.SensorType != "" {
		filter = append(filter, bson.E{Key: fieldSensorType, Value: f.SensorType})
	}
	return filter
}

// fromDocument maps every field of a stored document explicitly, failing on the first missing or
// mistyped one.
func fromDocument(raw bson.Raw) (r readings.Reading, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrMalformedDocument, err)
		}
	}()

	oid, err := lookup(raw, fieldID, bsontype.ObjectID)
	if err != nil {
		return r, err
	}
	r.ID = oid.ObjectID().Hex()

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{fieldDeviceID, &r.DeviceID},
		{fieldSensorType, &r.SensorType},
		{fieldUnit, &r.Unit},
		{fieldTimestamp, &r.Timestamp},
	} {
		v, err := lookup(raw, f.name, bsontype.String)
		if err != nil {
			return r, err
		}
		*f.dst = v.StringValue()
	}

	if r.Value, err = numeric(raw, fieldValue); err != nil {
		return r, err
	}

	created, err := lookup(raw, fieldCreatedAt, bsontype.DateTime)
	if err != nil {
		return r, err
	}
	r.CreatedAt = created.Time().UTC()

	return r, nil
}

func lookup(raw bson.Raw, field string, want bsontype.Type) (bson.RawValue, error) {
	v, err := raw.LookupErr(field)
	if err != nil {
		return v, fmt.Errorf("field %q is missing", field)
	}
	if v.Type != want {
		return v, fmt.Errorf("field %q has type %s, want %s", field, v.Type, want)
	}
	return v, nil
}

// numeric accepts any BSON number, documents written by other tools may hold integers.
func numeric(raw bson.Raw, field string) (float64, error) {
	v, err := raw.LookupErr(field)
	if err != nil {
		return 0, fmt.Errorf("field %q is missing", field)
	}

	switch v.Type {
	case bsontype.Double:
		return v.Double(), nil
	case bsontype.Int32:
		return float64(v.Int32()), nil
	case bsontype.Int64:
		return float64(v.Int64()), nil
	default:
		return 0, fmt.Errorf("field %q has type %s, want a number", field, v.Type)
	}
}
