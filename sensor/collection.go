package sensor

import (
	"sort"

	"github.com/samber/lo"
)

// Handle is the stable position of an instance in a Collection.
type Handle int

// Collection is the flat list of discovered instances. It is appended to
// during discovery only and never changes once frozen.
type Collection struct {
	items  []Instance
	frozen bool
}

func NewCollection() *Collection {
	return &Collection{}
}

// Append adds inst and returns its handle. It panics on a frozen collection.
func (c *Collection) Append(inst Instance) Handle {
	if c.frozen {
		panic("append to frozen sensor collection")
	}
	c.items = append(c.items, inst)
	return Handle(len(c.items) - 1)
}

func (c *Collection) Freeze() {
	c.frozen = true
}

func (c *Collection) Frozen() bool {
	return c.frozen
}

func (c *Collection) Len() int {
	return len(c.items)
}

func (c *Collection) At(h Handle) Instance {
	return c.items[h]
}

// All returns the instances in discovery order.
func (c *Collection) All() []Instance {
	return append([]Instance(nil), c.items...)
}

// TypeCount is one row of the discovery summary.
type TypeCount struct {
	TypeName string
	Count    int
}

// Summary counts instances per type name, sorted by type name.
func (c *Collection) Summary() []TypeCount {
	counts := lo.CountValuesBy(c.items, func(i Instance) string { return i.TypeName() })
	res := lo.MapToSlice(counts, func(name string, n int) TypeCount {
		return TypeCount{TypeName: name, Count: n}
	})
	sort.Slice(res, func(i, j int) bool { return res[i].TypeName < res[j].TypeName })
	return res
}

// OnBus returns instances discovered on bus id.
func (c *Collection) OnBus(id uint8) []Instance {
	return lo.Filter(c.items, func(i Instance, _ int) bool { return i.BusID() == id })
}
