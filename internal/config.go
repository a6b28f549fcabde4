package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/arkeimport/internal/catalog"
)

// Source kinds.
const (
	SourceKindDir = "dir"
	SourceKindS3  = "s3"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Source SourceConfig      `yaml:"source"`
	Import ImportConfig      `yaml:"import"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Import.Validate(); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level   `yaml:"log_level"`
	Status   StatusConfig `yaml:"status"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.Status.Validate()
}

// StatusConfig holds the optional status server configuration.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
}

// Address returns the status server address.
func (c *StatusConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the status configuration.
func (c *StatusConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig describes the entity store endpoint.
type StoreConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryMax          int           `yaml:"retry_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	AnchorPath        string        `yaml:"anchor_path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryMax, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.AnchorPath, validation.Required, validation.By(leadingSlash)),
	)
}

// SourceConfig selects where shards are read from.
type SourceConfig struct {
	Kind       string `yaml:"kind"`
	Dir        string `yaml:"dir"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	Region     string `yaml:"region"`
	Pattern    string `yaml:"pattern"`
	ShardCount int    `yaml:"shard_count"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(SourceKindDir, SourceKindS3)),
		validation.Field(&c.Pattern, validation.Required, validation.By(singleIntVerb)),
		validation.Field(&c.ShardCount, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	switch c.Kind {
	case SourceKindDir:
		if c.Dir == "" {
			return errors.New("dir: required when kind is dir")
		}
	case SourceKindS3:
		return validation.ValidateStruct(c,
			validation.Field(&c.Bucket, validation.Required),
			validation.Field(&c.Region, validation.Required),
		)
	}
	return nil
}

// ImportConfig controls the import run.
type ImportConfig struct {
	CollectionID    string            `yaml:"collection_id"`
	CheckpointPath  string            `yaml:"checkpoint_path"`
	CheckpointEvery int               `yaml:"checkpoint_every"`
	Delay           time.Duration     `yaml:"delay"`
	MaxRecords      int               `yaml:"max_records"`
	VerifyWorkers   int               `yaml:"verify_workers"`
	VerifyTimeout   time.Duration     `yaml:"verify_timeout"`
	JournalPath     string            `yaml:"journal_path"`
	StopFile        string            `yaml:"stop_file"`
	DryRun          bool              `yaml:"dry_run"`
	Institution     InstitutionConfig `yaml:"institution"`
}

// Validate validates the import configuration.
func (c *ImportConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.CollectionID, validation.Required),
		validation.Field(&c.CheckpointPath, validation.Required),
		validation.Field(&c.CheckpointEvery, validation.Required, validation.Min(1)),
		validation.Field(&c.Delay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRecords, validation.Min(0)),
		validation.Field(&c.VerifyWorkers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.VerifyTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if err := c.Institution.Validate(); err != nil {
		return fmt.Errorf("institution: %w", err)
	}
	return nil
}

// InstitutionConfig describes the institution entity created at the top of
// the hierarchy.
type InstitutionConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
	Location    string `yaml:"location"`
}

// Validate validates the institution configuration.
func (c *InstitutionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Description, validation.Required),
		validation.Field(&c.URL, validation.Required, validation.By(absoluteURL)),
	)
}

// Info converts the configuration into catalog form.
func (c *InstitutionConfig) Info() catalog.InstitutionInfo {
	return catalog.InstitutionInfo{
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		Location:    c.Location,
	}
}

func absoluteURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func leadingSlash(value any) error {
	s, _ := value.(string)
	if s != "" && !strings.HasPrefix(s, "/") {
		return errors.New("must start with /")
	}
	return nil
}

func singleIntVerb(value any) error {
	s, _ := value.(string)
	if s != "" && strings.Count(s, "%d") != 1 {
		return errors.New("must contain exactly one %d")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Status: StatusConfig{
				Port: 9090,
			},
		},
		Store: StoreConfig{
			Timeout:    300 * time.Second,
			RetryMax:   3,
			AnchorPath: "/arke",
		},
		Source: SourceConfig{
			Kind:       SourceKindS3,
			Bucket:     "nara-national-archives-catalog",
			Prefix:     "descriptions/collections/coll_WJC-NSCSW/",
			Region:     "us-east-2",
			Pattern:    "coll_WJC-NSCSW-%d.jsonl",
			ShardCount: 72,
		},
		Import: ImportConfig{
			CollectionID:    "WJC-NSCSW",
			CheckpointPath:  "./import_checkpoint.json",
			CheckpointEvery: 10,
			Delay:           60 * time.Second,
			VerifyWorkers:   1,
			VerifyTimeout:   300 * time.Second,
			JournalPath:     "./import_journal.db",
			Institution: InstitutionConfig{
				Name:        "National Archives",
				Description: "National Archives and Records Administration",
				URL:         "https://www.archives.gov/",
			},
		},
	}
}
