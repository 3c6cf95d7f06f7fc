// Package telemetry turns sensor readings into records and ships them in
// size bounded batches.
package telemetry

import (
	"time"

	"github.com/mklimuk/fanmon/sensor"
)

const (
	MeasurementHealth = "ESP_Health"
	MeasurementBoot   = "ESP_Boot"

	// FieldUptime is added to every record.
	FieldUptime = "arduino_millis"
)

// Record is one measurement row.
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      sensor.Fields
	Time        time.Time
}

// Tag returns a tag value or the empty string.
func (r Record) Tag(key string) string {
	return r.Tags[key]
}
