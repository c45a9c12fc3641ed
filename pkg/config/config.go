package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"lsmengine/pkg/dberrors"
)

const (
	EnvConfigPath = "LSMDB_CONFIG"
	EnvDataPath   = "LSMDB_PATH"
)

// Config is the root of the YAML configuration.
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	Server ServerConfig `yaml:"http-server"`
	DB     `yaml:"db"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type DB struct {
	Memtable    MemtableConfig    `yaml:"memtable"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Compaction  CompactionConfig  `yaml:"compaction"`
}

type MemtableConfig struct {
	// FlushThresholdBytes is the memtable size that triggers rotation.
	FlushThresholdBytes int `yaml:"flush_threshold"`
	// MaxImmTables bounds the immutable memtables waiting for flush. Writers stall above it.
	MaxImmTables int `yaml:"max_imm_tables"`
}

type PersistenceConfig struct {
	RootPath    string            `yaml:"path"`
	SSTable     SSTableConfig     `yaml:"sstable"`
	Cache       CacheConfig       `yaml:"cache"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
}

type SSTableConfig struct {
	BlockSize       int    `yaml:"block_size"`
	TargetSize      uint64 `yaml:"target_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
}

type CacheConfig struct {
	// Capacity is the number of blocks kept by the shared block cache. Zero disables it.
	Capacity int `yaml:"capacity"`
}

type BloomFilterConfig struct {
	BitsPerKey int `yaml:"bits_per_key"`
}

type CompactionConfig struct {
	Strategy      string  `yaml:"strategy"`
	Level0Trigger int     `yaml:"level0_trigger"`
	BaseLevelSize uint64  `yaml:"base_level_size"`
	Ratio         float64 `yaml:"ratio"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DB: DB{
			Memtable: MemtableConfig{
				FlushThresholdBytes: 4 << 20,
				MaxImmTables:        3,
			},
			Persistence: PersistenceConfig{
				RootPath: "./data",
				SSTable: SSTableConfig{
					BlockSize:       4096,
					TargetSize:      8 << 20,
					WriteBufferSize: 1 << 20,
				},
				Cache: CacheConfig{
					Capacity: 1024,
				},
				BloomFilter: BloomFilterConfig{
					BitsPerKey: 10,
				},
			},
			Compaction: CompactionConfig{
				Strategy:      "leveled",
				Level0Trigger: 4,
				BaseLevelSize: 8 << 20,
				Ratio:         10,
			},
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields the defaults.
// LSMDB_PATH, when set, overrides the data directory.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("config file not found, using default config", "path", path)
	case err != nil:
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if p := os.Getenv(EnvDataPath); p != "" {
		cfg.Persistence.RootPath = p
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q", c.Logger.Level))
	}
	check(c.Server.Port > 0 && c.Server.Port <= 65535, "http-server.port %d", c.Server.Port)

	check(c.Memtable.FlushThresholdBytes > 0, "db.memtable.flush_threshold %d", c.Memtable.FlushThresholdBytes)
	check(c.Memtable.MaxImmTables >= 0, "db.memtable.max_imm_tables %d", c.Memtable.MaxImmTables)

	check(c.Persistence.RootPath != "", "db.persistence.path is empty")
	check(c.Persistence.SSTable.BlockSize >= 64, "db.persistence.sstable.block_size %d", c.Persistence.SSTable.BlockSize)
	check(c.Persistence.SSTable.TargetSize >= uint64(c.Persistence.SSTable.BlockSize),
		"db.persistence.sstable.target_size %d below block size", c.Persistence.SSTable.TargetSize)
	check(c.Persistence.SSTable.WriteBufferSize > 0, "db.persistence.sstable.write_buffer_size %d", c.Persistence.SSTable.WriteBufferSize)
	check(c.Persistence.Cache.Capacity >= 0, "db.persistence.cache.capacity %d", c.Persistence.Cache.Capacity)
	check(c.Persistence.BloomFilter.BitsPerKey > 0, "db.persistence.bloom_filter.bits_per_key %d", c.Persistence.BloomFilter.BitsPerKey)

	switch c.Compaction.Strategy {
	case "leveled":
	case "tiered", "fluid", "lazy_leveling":
		errs = append(errs, fmt.Errorf("db.compaction.strategy %q: %w", c.Compaction.Strategy, dberrors.ErrUnsupportedStrategy))
	default:
		errs = append(errs, fmt.Errorf("db.compaction.strategy %q", c.Compaction.Strategy))
	}
	check(c.Compaction.Level0Trigger > 0, "db.compaction.level0_trigger %d", c.Compaction.Level0Trigger)
	check(c.Compaction.BaseLevelSize > 0, "db.compaction.base_level_size %d", c.Compaction.BaseLevelSize)
	check(c.Compaction.Ratio > 1, "db.compaction.ratio %g", c.Compaction.Ratio)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w: %w", dberrors.ErrInvalidArgument, errors.Join(errs...))
}

// SlogLevel maps the configured level name to a slog level.
func (c LoggerConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(c.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}
