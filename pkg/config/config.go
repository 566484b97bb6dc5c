// Package config defines and validates the engine's configuration
// shape for the storage and query core.
// Reading the file off disk and handing the result to the engine is the
// hosting process's job; this package owns parsing and validation only.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

// newValidator reports violations under the yaml field names users
// actually wrote, not the Go struct field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Config is the full configuration document.
type Config struct {
	// DataDir is the node's data root.
	DataDir string `yaml:"data_dir" validate:"required"`

	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Memory  MemoryConfig  `yaml:"memory"`
	Spill   SpillConfig   `yaml:"spill"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig covers the LSM engine's construction knobs.
type StorageConfig struct {
	MemTableMaxBytes int `yaml:"memtable_max_bytes" validate:"omitempty,min=4096"`
	MaxImmutables    int `yaml:"max_immutables" validate:"omitempty,min=1,max=64"`
	// WALSyncMode is one of sync, async, group.
	WALSyncMode          string `yaml:"wal_sync_mode" validate:"omitempty,oneof=sync async group"`
	WALMaxSegmentBytes   int64  `yaml:"wal_max_segment_bytes" validate:"omitempty,min=65536"`
	L0CompactionTrigger  int    `yaml:"l0_compaction_trigger" validate:"omitempty,min=2"`
	MaxMergeTables       int    `yaml:"max_merge_tables" validate:"omitempty,min=2"`
	CompactionIntervalMS int    `yaml:"compaction_interval_ms" validate:"omitempty,min=10"`
}

// CacheConfig sizes the two block-cache tiers and picks the eviction
// policy.
type CacheConfig struct {
	L1Bytes int64 `yaml:"l1_bytes" validate:"omitempty,min=65536"`
	L2Bytes int64 `yaml:"l2_bytes" validate:"omitempty,min=65536"`
	// Policy is one of lru, lfu, fifo.
	Policy         string `yaml:"policy" validate:"omitempty,oneof=lru lfu fifo"`
	PrefetchWindow int    `yaml:"prefetch_window" validate:"omitempty,min=1,max=64"`
	PrefetchTopK   int    `yaml:"prefetch_top_k" validate:"omitempty,min=1,max=16"`
}

// MemoryConfig sets the query-pool budget.
type MemoryConfig struct {
	TotalBudgetBytes    int64 `yaml:"total_budget_bytes" validate:"omitempty,min=1048576"`
	ReservedSystemBytes int64 `yaml:"reserved_system_bytes" validate:"omitempty,min=0"`
}

// SpillConfig locates the spill directory for the external sort and
// hash join operators.
type SpillConfig struct {
	Dir             string `yaml:"dir"`
	MaxRowsPerChunk int    `yaml:"max_rows_per_chunk" validate:"omitempty,min=100"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		DataDir: "data",
		Storage: StorageConfig{
			MemTableMaxBytes:     4 << 20,
			MaxImmutables:        4,
			WALSyncMode:          "group",
			WALMaxSegmentBytes:   64 << 20,
			L0CompactionTrigger:  4,
			MaxMergeTables:       8,
			CompactionIntervalMS: 1000,
		},
		Cache: CacheConfig{
			L1Bytes:        4 << 20,
			L2Bytes:        32 << 20,
			Policy:         "lru",
			PrefetchWindow: 8,
			PrefetchTopK:   2,
		},
		Memory: MemoryConfig{
			TotalBudgetBytes:    256 << 20,
			ReservedSystemBytes: 32 << 20,
		},
		Spill: SpillConfig{
			MaxRowsPerChunk: 10_000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Parse unmarshals a YAML document over the defaults and validates the
// result, so a partial file only overrides what it names.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints, returning the
// first violation as a readable error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: field %s fails constraint %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Memory.ReservedSystemBytes >= c.Memory.TotalBudgetBytes {
		return fmt.Errorf("config: reserved_system_bytes (%d) must be below total_budget_bytes (%d)",
			c.Memory.ReservedSystemBytes, c.Memory.TotalBudgetBytes)
	}
	return nil
}

// QueryPoolBytes derives the buffer-pool capacity: total budget minus
// reserved system bytes.
func (c *Config) QueryPoolBytes() int64 {
	return c.Memory.TotalBudgetBytes - c.Memory.ReservedSystemBytes
}
