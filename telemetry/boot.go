package telemetry

import (
	"github.com/google/uuid"
	"github.com/mklimuk/fanmon/sensor"
)

// Boot describes what the device found at startup.
type Boot struct {
	FirmwareVersion string
	// ID is a random id distinguishing boots of the same device.
	ID           string
	SensorCount  int
	BusCount     int
	OneWireCount int
}

func NewBoot(version string) Boot {
	return Boot{FirmwareVersion: version, ID: uuid.NewString()}
}

// Record builds the one-off boot record.
func (b Boot) Record(id Identity) Record {
	f := sensor.Fields{}
	f.SetInt("sensor_count", int64(b.SensorCount))
	f.SetInt("bus_count", int64(b.BusCount))
	f.SetInt("onewire_count", int64(b.OneWireCount))
	return Record{
		Measurement: MeasurementBoot,
		Tags: map[string]string{
			"device":           id.Device,
			"chip_id":          id.ChipID,
			"firmware_version": b.FirmwareVersion,
			"boot_id":          b.ID,
		},
		Fields: f,
	}
}
