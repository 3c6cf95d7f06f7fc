package app

import (
	"fmt"
	"io"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/config"
	eeprom "github.com/mklimuk/fanmon/memory/25aa1024"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

// OpenStore builds the persisted config store. The returned closer may be nil.
func OpenStore(c config.StoreConfig) (config.Store, io.Closer, error) {
	switch c.Kind {
	case config.StoreFile:
		return config.NewFileStore(c.Path), nil, nil
	case config.StoreMemory:
		return config.NewMemoryStore(), nil, nil
	case config.StoreEEPROM:
		mem, err := eeprom.Open(nanopi.NewNeoAdaptor())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", fanmon.ErrStoreOpen, err)
		}
		return config.NewEEPROMStore(mem, c.Offset), mem, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q: %w", c.Kind, fanmon.ErrStoreOpen)
}
