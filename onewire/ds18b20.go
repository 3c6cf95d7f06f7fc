// Package onewire reads DS18B20 temperature probes exposed by the Linux w1
// subsystem. Conversions are requested for all probes of a master at once
// and collected after the conversion time without blocking the caller.
package onewire

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const (
	DefaultRoot   = "/sys/bus/w1/devices"
	masterPrefix  = "w1_bus_master"
	ds18b20Prefix = "28-"

	MeasurementOneWire = "onewire_temp"

	// powerOnValue is reported by a probe that never converted
	powerOnValue = 85.0
)

// Device is one probe on a bus master.
type Device struct {
	BusID uint8
	// ID is the sysfs name, family code included (28-0123456789ab).
	ID string
}

// Address is the hex serial part of the ROM id.
func (d Device) Address() string {
	return strings.TrimPrefix(d.ID, ds18b20Prefix)
}

// Reading is one probe result.
type Reading struct {
	Device
	TempC float64
	Valid bool
}

func (r Reading) Fields() sensor.Fields {
	f := sensor.Fields{}
	f.SetFloatIf(r.Valid, "temp_c", r.TempC)
	return f
}

func (r Reading) Tags() map[string]string {
	return map[string]string{
		"bus_id":  strconv.Itoa(int(r.BusID)),
		"address": r.Address(),
	}
}

func validTemp(t float64) bool {
	return t > -40 && t < 125 && t != powerOnValue
}

// master is one w1_bus_masterN directory.
type master struct {
	id      uint8
	dir     string
	devices []Device
}

// scanMasters lists bus masters and their DS18B20 probes in name order.
func scanMasters(fs billy.Filesystem) ([]master, error) {
	entries, err := fs.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("could not list w1 devices: %w: %w", fanmon.ErrBusNotFound, err)
	}
	var res []master
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), masterPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), masterPrefix))
		if err != nil || n < 1 || n > 256 {
			continue
		}
		m := master{id: uint8(n - 1), dir: path.Join("/", e.Name())}
		devs, err := fs.ReadDir(m.dir)
		if err != nil {
			return nil, fmt.Errorf("could not list %s: %w", e.Name(), err)
		}
		for _, d := range devs {
			if strings.HasPrefix(d.Name(), ds18b20Prefix) {
				m.devices = append(m.devices, Device{BusID: m.id, ID: d.Name()})
			}
		}
		sort.Slice(m.devices, func(i, j int) bool { return m.devices[i].ID < m.devices[j].ID })
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].id < res[j].id })
	return res, nil
}

func (m master) trigger(fs billy.Filesystem) error {
	return util.WriteFile(fs, path.Join(m.dir, "therm_bulk_read"), []byte("trigger\n"), 0o200)
}

// readDevice reads the millidegree value of one probe.
func readDevice(fs billy.Filesystem, dir string, d Device) (float64, error) {
	b, err := util.ReadFile(fs, path.Join(dir, d.ID, "temperature"))
	if err != nil {
		return 0, fmt.Errorf("could not read %s: %w: %w", d.ID, fanmon.ErrReadFailed, err)
	}
	s := strings.TrimSpace(string(b))
	milli, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q from %s: %w", s, d.ID, fanmon.ErrInvalidData)
	}
	return float64(milli) / 1000, nil
}
