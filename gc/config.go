package gc

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the tuning knobs of a heap. The zero value of any field
// selects its default.
type Config struct {
	// LoadFactor sets the next collection threshold relative to the live
	// bytes after a collection.
	LoadFactor float64 `yaml:"load_factor"`

	// OfflineLoadFactor is used for heaps on the inactive list: the heap
	// manager collects an inactive heap that grew past this factor.
	OfflineLoadFactor float64 `yaml:"offline_load_factor"`

	// MinLimit is the smallest collection threshold in bytes.
	MinLimit uint64 `yaml:"min_limit"`

	// LargeObjectThreshold is the size from which objects get a dedicated
	// chunk.
	LargeObjectThreshold uint32 `yaml:"large_object_threshold"`

	// MaxHeapBytes caps the chunk memory a heap may hold. 0 means no cap.
	MaxHeapBytes uint64 `yaml:"max_heap_bytes"`

	// MaxMarkStackSegments caps the mark stack. Past the cap the stack
	// degrades to rescanning the heap. 0 means no cap.
	MaxMarkStackSegments int `yaml:"max_mark_stack_segments"`

	// MaxDynamicRoots caps the number of distinct pinned objects. 0 means no
	// cap.
	MaxDynamicRoots int `yaml:"max_dynamic_roots"`

	// Hardened poisons freed storage and checks the poison on reuse.
	Hardened bool `yaml:"hardened"`

	// Trace writes a TraceRecord to TraceWriter after each collection.
	Trace       bool      `yaml:"trace"`
	TraceWriter io.Writer `yaml:"-"`

	// MaintenanceIdle is how long a heap must be inactive before the heap
	// manager's maintenance pass collects it.
	MaintenanceIdle time.Duration `yaml:"maintenance_idle"`

	// UseMmap backs chunks with anonymous mappings where supported.
	UseMmap bool `yaml:"use_mmap"`

	// Now is the clock used for activity timestamps. Defaults to time.Now.
	Now func() time.Time `yaml:"-"`
}

const (
	defaultLoadFactor           = 2.0
	defaultOfflineLoadFactor    = 1.25
	defaultMinLimit             = 1 << 20
	defaultLargeObjectThreshold = 8 << 10
	defaultMaintenanceIdle      = 5 * time.Second
)

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.LoadFactor <= 1 {
		c.LoadFactor = defaultLoadFactor
	}
	if c.OfflineLoadFactor <= 1 {
		c.OfflineLoadFactor = defaultOfflineLoadFactor
	}
	if c.MinLimit == 0 {
		c.MinLimit = defaultMinLimit
	}
	if c.LargeObjectThreshold == 0 {
		c.LargeObjectThreshold = defaultLargeObjectThreshold
	}
	// Small objects must fit in a chunk with room to spare.
	if c.LargeObjectThreshold > chunkPayload/4 {
		c.LargeObjectThreshold = chunkPayload / 4
	}
	if c.MaintenanceIdle == 0 {
		c.MaintenanceIdle = defaultMaintenanceIdle
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("gc: parse config: %w", err)
	}
	return c, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gc: load config: %w", err)
	}
	return ParseConfig(data)
}
