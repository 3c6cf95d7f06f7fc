package config

import (
	"encoding/binary"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/mklimuk/fanmon"
	"gopkg.in/yaml.v3"
)

// Store persists the flat key/value device configuration. Save replaces
// everything previously stored.
type Store interface {
	Open() error
	Load() (map[string]string, error)
	Save(values map[string]string) error
}

var _ Store = &FileStore{}

// FileStore keeps the values as a YAML map in a single file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("could not create store directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("could not open store file: %w", err)
	}
	return f.Close()
}

func (s *FileStore) Load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("could not read store file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("could not parse store file: %w: %w", fanmon.ErrInvalidValue, err)
	}
	return values, nil
}

// Save writes a temporary file next to the store and renames it over the
// previous one.
func (s *FileStore) Save(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("could not write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Memory is the byte addressable device behind an EEPROMStore.
type Memory interface {
	Read(address uint32, length int) ([]byte, error)
	Write(address uint32, data []byte) error
}

// MaxBlob is the largest config blob an EEPROMStore accepts.
const MaxBlob = 16 * 1024

var _ Store = &EEPROMStore{}

// EEPROMStore keeps the YAML map as a blob prefixed by its big endian
// 32-bit length. An erased chip reads 0xFF and is treated as empty.
type EEPROMStore struct {
	mem    Memory
	offset uint32
}

func NewEEPROMStore(mem Memory, offset uint32) *EEPROMStore {
	return &EEPROMStore{mem: mem, offset: offset}
}

func (s *EEPROMStore) Open() error {
	_, err := s.mem.Read(s.offset, 4)
	return err
}

func (s *EEPROMStore) Load() (map[string]string, error) {
	hdr, err := s.mem.Read(s.offset, 4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr)
	values := map[string]string{}
	if n == 0 || n == 0xFFFFFFFF {
		return values, nil
	}
	if n > MaxBlob {
		return nil, fmt.Errorf("config blob length %d: %w", n, fanmon.ErrInvalidData)
	}
	data, err := s.mem.Read(s.offset+4, int(n))
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("could not parse config blob: %w: %w", fanmon.ErrInvalidData, err)
	}
	return values, nil
}

func (s *EEPROMStore) Save(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	if len(data) > MaxBlob {
		return fmt.Errorf("config blob too large (%d bytes): %w", len(data), fanmon.ErrInvalidValue)
	}
	blob := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	return s.mem.Write(s.offset, append(blob, data...))
}

var _ Store = &MemoryStore{}

// MemoryStore keeps values in memory. It backs simulated runs and tests.
type MemoryStore struct {
	mx      sync.Mutex
	values  map[string]string
	OpenErr error
	Saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Open() error {
	return s.OpenErr
}

func (s *MemoryStore) Load() (map[string]string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return maps.Clone(s.values), nil
}

func (s *MemoryStore) Save(values map[string]string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.values = maps.Clone(values)
	s.Saves++
	return nil
}
