package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the process-wide application configuration. Connection
// secrets come from the environment; this file carries tunables.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Storage     StorageConfig    `yaml:"storage"`
	Redis       RedisConfig      `yaml:"redis"`
	GCP         GCPConfig        `yaml:"gcp"`
	Supabase    SupabaseConfig   `yaml:"supabase"`
	Bus         BusConfig        `yaml:"bus"`
	Webhooks    WebhooksConfig   `yaml:"webhooks"`
	Validation  ValidationConfig `yaml:"validation"`
	Calibration Calibration      `yaml:"calibration"`
	Scoring     ScoringConfig    `yaml:"scoring"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type StorageConfig struct {
	// Driver selects the round/audit store backend: memory | postgres.
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	// SpannerDatabase enables the cloud audit archive when set
	// (projects/<p>/instances/<i>/databases/<d>).
	SpannerDatabase string `yaml:"spanner_database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// EnableBridge relays bus traffic through redis pub/sub for
	// cross-node overlay feeds.
	EnableBridge bool `yaml:"enable_bridge"`
}

type GCPConfig struct {
	ProjectID     string `yaml:"project_id"`
	PubSubTopic   string `yaml:"pubsub_topic"`
	TasksQueue    string `yaml:"tasks_queue"`
	TasksLocation string `yaml:"tasks_location"`
}

type SupabaseConfig struct {
	URL          string `yaml:"url"`
	Key          string `yaml:"key"`
	ResultsTable string `yaml:"results_table"`
}

type BusConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

type WebhooksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ValidationConfig carries the pre-lock check thresholds.
type ValidationConfig struct {
	MinTotalEvents           int     `yaml:"min_total_events"`
	MinJudgeEvents           int     `yaml:"min_judge_events"`
	MaxJudgeInactivitySec    float64 `yaml:"max_judge_inactivity_sec"`
	MaxCVInactivitySec       float64 `yaml:"max_cv_inactivity_sec"`
	TimecodeToleranceMS      int64   `yaml:"timecode_tolerance_ms"`
	ExpectedRoundDurationSec float64 `yaml:"expected_round_duration_sec"`
	DurationToleranceSec     float64 `yaml:"duration_tolerance_sec"`
}

type ScoringConfig struct {
	// ProfilePath points at a promotion's ScoringProfile override.
	// Empty means the default profile.
	ProfilePath string `yaml:"profile_path"`
}

// ApplyDefaults fills every zero-valued tunable with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Bus.SubscriberBuffer == 0 {
		c.Bus.SubscriberBuffer = 128
	}
	if c.Webhooks.Workers == 0 {
		c.Webhooks.Workers = 4
	}
	if c.Webhooks.QueueSize == 0 {
		c.Webhooks.QueueSize = 1000
	}
	if c.Supabase.ResultsTable == "" {
		c.Supabase.ResultsTable = "round_results"
	}
	if c.GCP.TasksLocation == "" {
		c.GCP.TasksLocation = "us-central1"
	}

	if c.Validation.MinTotalEvents == 0 {
		c.Validation.MinTotalEvents = 5
	}
	if c.Validation.MinJudgeEvents == 0 {
		c.Validation.MinJudgeEvents = 2
	}
	if c.Validation.MaxJudgeInactivitySec == 0 {
		c.Validation.MaxJudgeInactivitySec = 60
	}
	if c.Validation.MaxCVInactivitySec == 0 {
		c.Validation.MaxCVInactivitySec = 30
	}
	if c.Validation.TimecodeToleranceMS == 0 {
		c.Validation.TimecodeToleranceMS = 5000
	}
	if c.Validation.ExpectedRoundDurationSec == 0 {
		c.Validation.ExpectedRoundDurationSec = 300
	}
	if c.Validation.DurationToleranceSec == 0 {
		c.Validation.DurationToleranceSec = 30
	}

	c.Calibration.applyDefaults()
}

// LoadConfig reads a YAML config file and applies defaults. A missing
// file is not an error: the zero config with defaults is returned so
// a bare process still boots.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return &cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// FromEnv overlays environment variables onto connection settings.
func (c *Config) FromEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
		if c.Storage.Driver == "memory" {
			c.Storage.Driver = "postgres"
		}
	}
	if v := os.Getenv("SPANNER_DATABASE"); v != "" {
		c.Storage.SpannerDatabase = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.GCP.ProjectID = v
	}
	if v := os.Getenv("PUBSUB_TOPIC"); v != "" {
		c.GCP.PubSubTopic = v
	}
	if v := os.Getenv("CLOUD_TASKS_QUEUE"); v != "" {
		c.GCP.TasksQueue = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		c.Supabase.Key = v
	}
}
