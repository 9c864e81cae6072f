package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const maxPageSize = 50

const (
	DriverCSV      = "csv"
	DriverPostgres = "postgres"
)

var ErrMissingAPIKey = errors.New("API key not found, set YOUTUBE_API_KEY in the environment or .env file")

type Config struct {
	Search      SearchConfig     `yaml:"search"`
	Stats       StatsConfig      `yaml:"stats"`
	Transcripts TranscriptConfig `yaml:"transcripts"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Storage     StorageConfig    `yaml:"storage"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	APIKey      string           `yaml:"youtube_api_key" env:"YOUTUBE_API_KEY"`
}

type SearchConfig struct {
	Query           string        `yaml:"query" env:"SEARCH_QUERY" env-default:"sourdough bread baking"`
	PublishedAfter  string        `yaml:"published_after" env:"SEARCH_PUBLISHED_AFTER" env-default:"2020-03-15T00:00:00Z"`
	PublishedBefore string        `yaml:"published_before" env:"SEARCH_PUBLISHED_BEFORE" env-default:"2021-04-01T00:00:00Z"`
	PageSize        int           `yaml:"page_size" env:"SEARCH_PAGE_SIZE" env-default:"50"`
	RegionCode      string        `yaml:"region_code" env:"SEARCH_REGION_CODE"`
	PageDelay       time.Duration `yaml:"page_delay" env:"SEARCH_PAGE_DELAY" env-default:"1s"`
	RetryDelay      time.Duration `yaml:"retry_delay" env:"SEARCH_RETRY_DELAY" env-default:"10s"`
}

type StatsConfig struct {
	BatchSize  int           `yaml:"batch_size" env:"STATS_BATCH_SIZE" env-default:"50"`
	BatchDelay time.Duration `yaml:"batch_delay" env:"STATS_BATCH_DELAY" env-default:"1s"`
}

type TranscriptConfig struct {
	Languages []string      `yaml:"languages" env:"TRANSCRIPT_LANGUAGES" env-default:"en"`
	Delay     time.Duration `yaml:"delay" env:"TRANSCRIPT_DELAY" env-default:"1s"`
	Timeout   time.Duration `yaml:"timeout" env:"TRANSCRIPT_TIMEOUT" env-default:"30s"`
}

// PipelineConfig toggles the optional phases of a run.
type PipelineConfig struct {
	UpdateExisting    bool `yaml:"update_existing" env:"UPDATE_EXISTING" env-default:"false"`
	FetchTranscripts  bool `yaml:"fetch_transcripts" env:"FETCH_TRANSCRIPTS"`
	UpdateTranscripts bool `yaml:"update_transcripts" env:"UPDATE_TRANSCRIPTS" env-default:"false"`
	CheckpointEvery   int  `yaml:"checkpoint_every" env:"CHECKPOINT_EVERY" env-default:"10"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"csv"`
	CSVPath     string `yaml:"csv_path" env:"CSV_FILE_PATH" env-default:"data/scrapped_data.csv"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	BackupDir   string `yaml:"backup_dir" env:"BACKUP_DIR" env-default:"data"`
}

type LogConfig struct {
	Dir   string `yaml:"dir" env:"LOG_DIR" env-default:"logs"`
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile" env:"METRICS_TEXTFILE"`
}

// Load reads the YAML file at path, when it exists, and applies environment
// overrides and defaults. The result is validated.
func Load(path string) (Config, error) {
	// env-default only fills zero values, so a default of true could never be
	// switched off from the file. Preset it instead.
	cfg := Config{Pipeline: PipelineConfig{FetchTranscripts: true}}
	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}

	var problems []string
	if strings.TrimSpace(c.Search.Query) == "" {
		problems = append(problems, "search query is empty")
	}
	if c.Search.PageSize < 1 || c.Search.PageSize > maxPageSize {
		problems = append(problems, fmt.Sprintf("search page size %d not in 1..%d", c.Search.PageSize, maxPageSize))
	}
	if c.Stats.BatchSize < 1 || c.Stats.BatchSize > maxPageSize {
		problems = append(problems, fmt.Sprintf("stats batch size %d not in 1..%d", c.Stats.BatchSize, maxPageSize))
	}
	after, errAfter := time.Parse(time.RFC3339, c.Search.PublishedAfter)
	if errAfter != nil {
		problems = append(problems, fmt.Sprintf("invalid published_after %q", c.Search.PublishedAfter))
	}
	before, errBefore := time.Parse(time.RFC3339, c.Search.PublishedBefore)
	if errBefore != nil {
		problems = append(problems, fmt.Sprintf("invalid published_before %q", c.Search.PublishedBefore))
	}
	if errAfter == nil && errBefore == nil && !after.Before(before) {
		problems = append(problems, "published_after must be before published_before")
	}
	if c.Pipeline.CheckpointEvery < 1 {
		problems = append(problems, "checkpoint_every must be positive")
	}
	switch c.Storage.Driver {
	case DriverCSV:
		if c.Storage.CSVPath == "" {
			problems = append(problems, "csv_path is empty")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "postgres_dsn is required for the postgres driver")
		}
		if c.Storage.BackupDir == "" {
			problems = append(problems, "backup_dir is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
