package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/adapter"
	"github.com/mklimuk/fanmon/config"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/i2c/sim"
	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

// Buses are the logical buses in configured order plus the transports
// behind them.
type Buses struct {
	List []fanmon.Bus
	// Failed lists the ids of configured buses that could not be opened.
	Failed  []uint8
	closers []io.Closer
}

func (b *Buses) Close() error {
	var err error
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	b.closers = nil
	return err
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// transportKey identifies a physical transport shared by several buses.
type transportKey struct {
	backend string
	device  string
}

// OpenBuses opens every configured bus. Buses naming the same device share
// one transport through a switcher. A bus that cannot be opened is logged
// and skipped; discovery continues with the others.
func OpenBuses(ctx context.Context, cfgs []config.Bus, board *sim.Board, logger *slog.Logger) *Buses {
	log := logger.With("component", "buses")
	res := &Buses{}
	groups := map[transportKey][]config.Bus{}
	for _, c := range cfgs {
		k := transportKey{c.Backend, c.Device}
		groups[k] = append(groups[k], c)
	}
	switchers := map[transportKey]*i2c.Switcher{}
	for _, c := range cfgs {
		k := transportKey{c.Backend, c.Device}
		sw, ok := switchers[k]
		if !ok {
			transport, closer, err := openTransport(c, board, logger)
			if err != nil {
				log.Error("could not open bus", "bus", c.ID, "backend", c.Backend, "device", c.Device, "error", err)
				res.Failed = append(res.Failed, c.ID)
				continue
			}
			if closer != nil {
				res.closers = append(res.closers, closer)
			}
			sw = i2c.NewSwitcher(transport, selectFunc(groups[k]))
			switchers[k] = sw
		}
		res.List = append(res.List, sw.Bus(c.ID))
		log.Info("bus ready", "bus", c.ID, "backend", c.Backend, "device", c.Device)
	}
	return res
}

// selectFunc returns the mux routing for a shared transport. A transport
// carrying a single bus without a mux needs none.
func selectFunc(group []config.Bus) i2c.SelectFunc {
	if len(group) < 2 && group[0].MuxAddress == 0 {
		return nil
	}
	channels := map[uint8]uint8{}
	var addr byte
	for _, c := range group {
		channels[c.ID] = c.MuxChannel
		if c.MuxAddress != 0 {
			addr = c.MuxAddress
		}
	}
	if addr == 0 {
		return nil
	}
	return i2c.MuxSelect(addr, channels)
}

func openTransport(c config.Bus, board *sim.Board, logger *slog.Logger) (fanmon.I2CBus, io.Closer, error) {
	switch c.Backend {
	case config.BackendPeriph:
		b, err := i2c.NewGenericBus(c.Device)
		if err != nil {
			return nil, nil, err
		}
		if err := b.SetFrequency(int64(c.FrequencyHz)); err != nil {
			logger.Warn("keeping default bus speed", "bus", c.ID, "error", err)
		}
		return b, b, nil
	case config.BackendGobot:
		nr := int(c.ID)
		if c.Device != "" {
			n, err := strconv.Atoi(c.Device)
			if err != nil {
				return nil, nil, fmt.Errorf("gobot bus number %q: %w", c.Device, fanmon.ErrInvalidValue)
			}
			nr = n
		}
		npi := nanopi.NewNeoAdaptor()
		if err := npi.Connect(); err != nil {
			return nil, nil, fmt.Errorf("could not connect nanopi adaptor: %w: %w", fanmon.ErrBusNotFound, err)
		}
		b := i2c.NewGobotBus(npi, nr)
		return b, closeFunc(func() error { return multierr.Append(b.Close(), npi.Finalize()) }), nil
	case config.BackendMCP2221:
		return adapter.NewMCP2221(adapter.WithLogger(logger)), nil, nil
	case config.BackendSim:
		if board == nil {
			board = sim.NewBoard()
		}
		buses := board.Buses()
		if int(c.ID) < len(buses) {
			return buses[c.ID], nil, nil
		}
		return sim.NewBus(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q: %w", c.Backend, fanmon.ErrInvalidValue)
}

// SimulatedBuses replaces every configured backend with the simulated one.
func SimulatedBuses(cfgs []config.Bus) []config.Bus {
	res := make([]config.Bus, len(cfgs))
	for i, c := range cfgs {
		c.Backend = config.BackendSim
		c.Device = "sim" + strconv.Itoa(int(c.ID))
		c.MuxAddress = 0
		res[i] = c
	}
	return res
}
