package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete compactor configuration. It is loaded once at
// startup and passed by value into every component constructor.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Weight    WeightConfig    `yaml:"weight"`
	Planner   PlannerConfig   `yaml:"planner"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	API       APIConfig       `yaml:"api"`
	Gossip    GossipConfig    `yaml:"gossip"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// WeightConfig holds the region weight formula constants
type WeightConfig struct {
	LocalityFactor  float64 `yaml:"locality_factor"`
	FileCountFactor float64 `yaml:"file_count_factor"`
	SizeDivisor     float64 `yaml:"size_divisor"`
	MinSizeMB       int64   `yaml:"min_size_mb"`
}

// PlannerConfig holds continuous-mode eligibility borders
type PlannerConfig struct {
	Sort         bool    `yaml:"sort"`
	BorderWeight float64 `yaml:"border_weight"`
	BorderSizeMB int64   `yaml:"border_size_mb"`
}

// DedupConfig sizes the per-node recently-compacted cache
type DedupConfig struct {
	Size            int           `yaml:"size"`
	TTL             time.Duration `yaml:"ttl"`
	ForgetOnFailure bool          `yaml:"forget_on_failure"`
}

// WorkerConfig controls admission, pacing and replanning of node workers
type WorkerConfig struct {
	Parallelism          int           `yaml:"parallelism"`
	StatusDelay          time.Duration `yaml:"status_delay"`
	AdditionDelay        time.Duration `yaml:"addition_delay"`
	GateBackoff          time.Duration `yaml:"gate_backoff"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	RecalcRegionCount    int           `yaml:"recalc_region_count"`
	MaxCompactionsBorder int           `yaml:"max_compactions_border"`
	MaxFlushesBorder     int           `yaml:"max_flushes_border"`
	DrainTimeout         time.Duration `yaml:"drain_timeout"`
}

// SchedulerConfig controls cluster-wide orchestration
type SchedulerConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReportInterval  time.Duration `yaml:"report_interval"`
}

// TelemetryConfig configures the node queue-depth probe
type TelemetryConfig struct {
	Source        string        `yaml:"source"`
	Scheme        string        `yaml:"scheme"`
	InfoPort      int           `yaml:"info_port"`
	Ports         map[int]int   `yaml:"ports"`
	Timeout       time.Duration `yaml:"timeout"`
	FailClosed    bool          `yaml:"fail_closed"`
	EscalateAfter int           `yaml:"escalate_after"`
}

// CatalogConfig configures the bbolt-backed cluster catalog
type CatalogConfig struct {
	Path               string        `yaml:"path"`
	CompactionDuration time.Duration `yaml:"compaction_duration"`
}

// APIConfig configures the status surfaces
type APIConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// GossipConfig configures optional memberlist-based node discovery
type GossipConfig struct {
	Enabled  bool     `yaml:"enabled"`
	NodeName string   `yaml:"node_name"`
	BindAddr string   `yaml:"bind_addr"`
	BindPort int      `yaml:"bind_port"`
	Join     []string `yaml:"join"`
}

// Default returns the configuration used when no file overrides a value
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Weight: WeightConfig{
			LocalityFactor:  115,
			FileCountFactor: 1.33,
			SizeDivisor:     1024,
			MinSizeMB:       10,
		},
		Planner: PlannerConfig{
			Sort:         false,
			BorderWeight: 15,
			BorderSizeMB: 100,
		},
		Dedup: DedupConfig{
			Size: 350,
			TTL:  24 * time.Hour,
		},
		Worker: WorkerConfig{
			Parallelism:          2,
			StatusDelay:          5 * time.Second,
			AdditionDelay:        10 * time.Second,
			GateBackoff:          100 * time.Second,
			IdleTimeout:          30 * time.Minute,
			RecalcRegionCount:    15,
			MaxCompactionsBorder: 11,
			MaxFlushesBorder:     31,
			DrainTimeout:         5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			RefreshInterval: 90 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			ReportInterval:  time.Minute,
		},
		Telemetry: TelemetryConfig{
			Source:        "jmx",
			Scheme:        "http",
			InfoPort:      16030,
			Timeout:       5 * time.Second,
			EscalateAfter: 3,
		},
		Catalog: CatalogConfig{
			Path:               "compactor.db",
			CompactionDuration: 30 * time.Second,
		},
		API: APIConfig{
			HTTPAddr: ":9090",
			GRPCAddr: ":9091",
		},
		Gossip: GossipConfig{
			BindAddr: "0.0.0.0",
			BindPort: 7946,
		},
	}
}

// Load reads a YAML file and overlays it onto the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	switch {
	case c.Weight.SizeDivisor <= 0:
		return fmt.Errorf("weight.size_divisor must be positive")
	case c.Weight.MinSizeMB < 0:
		return fmt.Errorf("weight.min_size_mb must not be negative")
	case c.Dedup.Size < 1:
		return fmt.Errorf("dedup.size must be at least 1")
	case c.Dedup.TTL <= 0:
		return fmt.Errorf("dedup.ttl must be positive")
	case c.Worker.Parallelism < 1:
		return fmt.Errorf("worker.parallelism must be at least 1")
	case c.Worker.StatusDelay <= 0:
		return fmt.Errorf("worker.status_delay must be positive")
	case c.Worker.AdditionDelay < 0:
		return fmt.Errorf("worker.addition_delay must not be negative")
	case c.Worker.GateBackoff <= 0:
		return fmt.Errorf("worker.gate_backoff must be positive")
	case c.Worker.IdleTimeout <= 0:
		return fmt.Errorf("worker.idle_timeout must be positive")
	case c.Worker.RecalcRegionCount < 1:
		return fmt.Errorf("worker.recalc_region_count must be at least 1")
	case c.Worker.MaxCompactionsBorder < 0 || c.Worker.MaxFlushesBorder < 0:
		return fmt.Errorf("worker queue borders must not be negative")
	case c.Scheduler.RefreshInterval <= 0:
		return fmt.Errorf("scheduler.refresh_interval must be positive")
	case c.Scheduler.ShutdownTimeout <= 0:
		return fmt.Errorf("scheduler.shutdown_timeout must be positive")
	case c.Telemetry.Source != "jmx" && c.Telemetry.Source != "catalog":
		return fmt.Errorf("telemetry.source must be jmx or catalog, got %q", c.Telemetry.Source)
	case c.Telemetry.Scheme != "http" && c.Telemetry.Scheme != "https":
		return fmt.Errorf("telemetry.scheme must be http or https, got %q", c.Telemetry.Scheme)
	case c.Telemetry.Timeout <= 0:
		return fmt.Errorf("telemetry.timeout must be positive")
	}
	return nil
}
