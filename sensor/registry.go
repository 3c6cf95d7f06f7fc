package sensor

import (
	"context"
	"fmt"
	"slices"

	"github.com/mklimuk/fanmon"
)

// Factory builds an instance for the device at address on bus. A non-nil
// error means the device is absent or is a different part.
type Factory func(ctx context.Context, bus fanmon.Bus, address byte) (Instance, error)

// Descriptor is the static metadata and factory of one sensor type.
type Descriptor struct {
	TypeName    string
	Measurement string
	// Addresses a part of this type may occupy. Used to pick candidates only.
	Addresses []byte
	Factory   Factory
	// PostProcessing marks types whose instances spawn virtual sensors.
	PostProcessing bool
}

func (d Descriptor) Matches(address byte) bool {
	return slices.Contains(d.Addresses, address)
}

// Info returns the identity of an instance of this type at address.
func (d Descriptor) Info(bus fanmon.Bus, address byte) Info {
	return Info{TypeName: d.TypeName, Measurement: d.Measurement, BusID: bus.ID(), Address: address}
}

// Registry is the ordered catalog of descriptors. It is filled before
// discovery seals it and read-only afterwards.
type Registry struct {
	descriptors []Descriptor
	sealed      bool
}

// NewRegistry registers descriptors in the given order.
func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{}
	for _, d := range descriptors {
		r.Register(d)
	}
	return r
}

// Register appends d. It panics on a malformed descriptor or when called
// after Seal.
func (r *Registry) Register(d Descriptor) {
	if d.Factory == nil {
		panic(fmt.Sprintf("sensor descriptor %q has no factory", d.TypeName))
	}
	if d.TypeName == "" {
		panic("sensor descriptor without type name")
	}
	if r.sealed {
		panic(fmt.Sprintf("sensor descriptor %q registered after lookup", d.TypeName))
	}
	r.descriptors = append(r.descriptors, d)
}

// Seal ends registration. Discovery seals the registry before its first
// lookup.
func (r *Registry) Seal() {
	r.sealed = true
}

func (r *Registry) Sealed() bool {
	return r.sealed
}

// FindByAddress returns every descriptor claiming address, in registration
// order. An empty result means an unknown device.
func (r *Registry) FindByAddress(address byte) []Descriptor {
	var res []Descriptor
	for _, d := range r.descriptors {
		if d.Matches(address) {
			res = append(res, d)
		}
	}
	return res
}

func (r *Registry) Count() int {
	return len(r.descriptors)
}

// Descriptors returns a copy of the registered descriptors.
func (r *Registry) Descriptors() []Descriptor {
	return slices.Clone(r.descriptors)
}

// DriverFunc builds a driver bound to transport at address.
type DriverFunc[R any] func(transport fanmon.I2CBus, address byte) Driver[R]

// Describe builds a descriptor whose factory selects the bus, creates the
// driver and runs its handshake through Start.
func Describe[R any](typeName, measurement string, addresses []byte, newDriver DriverFunc[R], format Formatter[R]) Descriptor {
	d := Descriptor{TypeName: typeName, Measurement: measurement, Addresses: addresses}
	d.Factory = func(ctx context.Context, bus fanmon.Bus, address byte) (Instance, error) {
		transport, err := bus.Select(ctx)
		if err != nil {
			return nil, err
		}
		inst, err := Start(ctx, d.Info(bus, address), newDriver(transport, address), format)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
	return d
}
