// Package constants is responsible for defining the constants used in the application.
package constants

import (
	"log/slog"
	"time"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// APICmdName is the name of the sensor reading API command.
	APICmdName = "lightcar-api"

	// SensorCmdName is the name of the field acquisition command.
	SensorCmdName = "lightcar-sensor"

	// ServiceName is the service name reported by the health endpoint.
	ServiceName = "IoT LightCar API"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

// Storage constants.
const (
	// DefaultDBName is the database used when DB_NAME is not set.
	DefaultDBName = "iot_lightcar"

	// ReadingsCollection is the name of the collection holding sensor readings.
	ReadingsCollection = "sensor_readings"

	// MongoURIEnv is the environment variable holding the document store connection string.
	MongoURIEnv = "MONGODB_URI"

	// DBNameEnv is the environment variable holding the database name.
	DBNameEnv = "DB_NAME"
)

// Reading constants.
const (
	// TimestampLayout is the format of the device supplied or generated reading timestamp.
	TimestampLayout = "2006-01-02 15:04:05"

	// DefaultListLimit is the number of readings returned when no limit is requested.
	DefaultListLimit = 50

	// MaxListLimit is the largest accepted limit for listing readings.
	MaxListLimit = 500
)

// Field device defaults.
const (
	DefaultDeviceID     = "lightcar_01"
	DefaultSensorType   = "ultrasonic"
	DefaultUnit         = "cm"
	DefaultAPIURL       = "http://localhost:8000/api/sensor-data"
	DefaultInterval     = 2 * time.Second
	DefaultSendTimeout  = 2 * time.Second
	DefaultTriggerPin   = "GPIO23"
	DefaultEchoPin      = "GPIO24"
	DefaultMaxDistance  = 2.0 // meters
	DefaultMQTTBroker   = "tcp://localhost:1883"
	DefaultMQTTTopic    = "lightcar/readings"
	DefaultMQTTClientID = "lightcar"
)
