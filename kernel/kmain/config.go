package kmain

import (
	"encoding/json"
	"os"
	"time"

	"github.com/NachaFrega/xv6-riscv/kernel"
)

var (
	errBadCPUs    = &kernel.Error{Module: "kmain", Message: "at least one CPU is required"}
	errBadProcs   = &kernel.Error{Module: "kmain", Message: "at least two process slots are required"}
	errBadMemory  = &kernel.Error{Module: "kmain", Message: "at least 16 memory frames are required"}
	errBigMemory  = &kernel.Error{Module: "kmain", Message: "at most 262144 memory frames are supported"}
	errBadTick    = &kernel.Error{Module: "kmain", Message: "tick interval must be positive"}
	errBadAging   = &kernel.Error{Module: "kmain", Message: "aging rounds cannot be negative"}
	errHalted     = &kernel.Error{Module: "kmain", Message: "machine halted before init exited"}
	errAlreadyRan = &kernel.Error{Module: "kmain", Message: "kernel can only run once"}
)

const (
	minMemoryFrames = 16
	maxMemoryFrames = 1 << 18
)

// Config describes the simulated machine.
type Config struct {
	// CPUs is the number of processors.
	CPUs int `json:"cpus"`

	// Procs is the number of process slots.
	Procs int `json:"procs"`

	// MemoryFrames is the size of physical memory in 4K frames.
	MemoryFrames uint32 `json:"memory_frames"`

	// TickMillis is the clock interrupt interval in milliseconds.
	TickMillis int `json:"tick_ms"`

	// TLBShootdown enables cross-CPU TLB invalidation when page
	// permissions change.
	TLBShootdown bool `json:"tlb_shootdown"`

	// AgingRounds controls how fast passed-over processes gain priority.
	// Zero selects strict priority scheduling.
	AgingRounds int `json:"aging_rounds"`
}

// DefaultConfig returns the configuration used when no config file is given.
func DefaultConfig() Config {
	return Config{
		CPUs:         3,
		Procs:        64,
		MemoryFrames: 2048,
		TickMillis:   10,
		TLBShootdown: true,
		AgingRounds:  8,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// their default values.
func LoadConfig(path string) (Config, *kernel.Error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &kernel.Error{Module: "kmain", Message: "unable to read config: " + err.Error()}
	}

	if err = json.Unmarshal(data, &cfg); err != nil {
		return cfg, &kernel.Error{Module: "kmain", Message: "unable to parse config: " + err.Error()}
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration describes a bootable machine.
func (cfg Config) Validate() *kernel.Error {
	switch {
	case cfg.CPUs < 1:
		return errBadCPUs
	case cfg.Procs < 2:
		return errBadProcs
	case cfg.MemoryFrames < minMemoryFrames:
		return errBadMemory
	case cfg.MemoryFrames > maxMemoryFrames:
		return errBigMemory
	case cfg.TickMillis <= 0:
		return errBadTick
	case cfg.AgingRounds < 0:
		return errBadAging
	}
	return nil
}

// Tick returns the clock interrupt interval.
func (cfg Config) Tick() time.Duration {
	return time.Duration(cfg.TickMillis) * time.Millisecond
}
