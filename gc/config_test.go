package gc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
load_factor: 3
min_limit: 65536
hardened: true
max_dynamic_roots: 100
maintenance_idle: 250ms
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LoadFactor != 3 || cfg.MinLimit != 65536 || !cfg.Hardened || cfg.MaxDynamicRoots != 100 {
		t.Errorf("parsed config: %+v", cfg)
	}
	if cfg.MaintenanceIdle != 250*time.Millisecond {
		t.Errorf("maintenance_idle: got %v, want 250ms", cfg.MaintenanceIdle)
	}

	if _, err := ParseConfig([]byte("load_factr: 3\n")); err == nil {
		t.Error("misspelled key accepted")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LoadFactor != defaultLoadFactor || cfg.MinLimit != defaultMinLimit || cfg.Now == nil {
		t.Errorf("defaults: %+v", cfg)
	}

	// A threshold too big for a chunk is clamped.
	cfg = Config{LargeObjectThreshold: 1 << 30}.withDefaults()
	if cfg.LargeObjectThreshold != chunkPayload/4 {
		t.Errorf("large object threshold: got %d, want %d", cfg.LargeObjectThreshold, chunkPayload/4)
	}

	h := newTestHeap(t, Config{MinLimit: 1 << 16, LoadFactor: 4})
	if h.Limit() != 1<<16 {
		t.Errorf("initial limit: got %d, want %d", h.Limit(), 1<<16)
	}
	c := h.NewContext(nil)
	defer c.Close()
	big := strings.Repeat("b", 4000)
	for i := 0; i < 8; i++ {
		c.Push(StringValue(c.NewString(big)))
	}
	h.ForceCollect(ReasonForced)
	if want := 4 * h.Live(); h.Limit() != want {
		t.Errorf("limit after collection: got %d, want %d", h.Limit(), want)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.yaml")
	if err := os.WriteFile(path, []byte("use_mmap: true\nmax_heap_bytes: 1048576\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.UseMmap || cfg.MaxHeapBytes != 1<<20 {
		t.Errorf("loaded config: %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	// Chunks backed by anonymous mappings behave like heap memory.
	h := newTestHeap(t, cfg)
	c := h.NewContext(nil)
	s := c.NewString("mapped")
	h.Pin(s)
	c.NewString(strings.Repeat("large", 4000))
	h.ForceCollect(ReasonForced)
	if got := h.StringContent(s); got != "mapped" {
		t.Errorf("string in mapped chunk: got %q", got)
	}
	c.Close()
	h.Destroy()
	if h.Pages().Sys() != 0 {
		t.Errorf("mapped memory not returned: %d bytes", h.Pages().Sys())
	}
}
