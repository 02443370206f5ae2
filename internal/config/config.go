// Package config loads coexcore settings from an optional YAML file and
// COEXCORE_* environment variables.
package config

import (
	"coexcore/internal/analysis"
	"coexcore/internal/blob"
	"coexcore/internal/core"
	"coexcore/internal/graphsync"
	"coexcore/pkg/domain"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key. Nested keys join with
// underscores, so sqlite.path reads COEXCORE_SQLITE_PATH.
const EnvPrefix = "COEXCORE"

// Settings is the full configuration tree.
type Settings struct {
	Storage  StorageSettings  `mapstructure:"storage"`
	SQLite   SQLiteSettings   `mapstructure:"sqlite"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Blob     BlobSettings     `mapstructure:"blob"`
	Graph    GraphSettings    `mapstructure:"graph"`
	Log      LogSettings      `mapstructure:"log"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
	Analysis AnalysisSettings `mapstructure:"analysis"`
}

type StorageSettings struct {
	Driver string `mapstructure:"driver"`
}

type SQLiteSettings struct {
	Path string `mapstructure:"path"`
}

type PostgresSettings struct {
	DSN string `mapstructure:"dsn"`
}

type BlobSettings struct {
	Driver string     `mapstructure:"driver"`
	FSRoot string     `mapstructure:"fs_root"`
	S3     S3Settings `mapstructure:"s3"`
}

type S3Settings struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type GraphSettings struct {
	URI            string        `mapstructure:"uri"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    int           `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
}

type LogSettings struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

type MetricsSettings struct {
	Namespace string `mapstructure:"namespace"`
}

type AnalysisSettings struct {
	Workers   int     `mapstructure:"workers"`
	Threshold float64 `mapstructure:"threshold"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", string(core.StorageSQLite))
	v.SetDefault("sqlite.path", "./coexcore.db")
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./exports")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")

	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.user", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")
	v.SetDefault("graph.max_pool_size", 50)
	v.SetDefault("graph.connect_timeout", 10*time.Second)
	v.SetDefault("graph.batch_size", 500)

	v.SetDefault("log.mode", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.namespace", "coexcore")

	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.threshold", analysis.DefaultThreshold)
}

// Load reads settings. An empty path skips the file; a named file that
// does not exist is an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks driver names and numeric ranges.
func Validate(s *Settings) error {
	var errs []error
	switch core.StorageDriver(s.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if s.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", s.Storage.Driver))
	}
	switch blob.Driver(s.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if s.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q is not one of fs, s3, memory", s.Blob.Driver))
	}
	if s.Analysis.Workers < 1 {
		errs = append(errs, fmt.Errorf("analysis.workers must be positive, got %d", s.Analysis.Workers))
	}
	if s.Analysis.Threshold < 0 || s.Analysis.Threshold > 1 {
		errs = append(errs, fmt.Errorf("analysis.threshold must be within [0,1], got %v", s.Analysis.Threshold))
	}
	if s.Graph.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("graph.batch_size must be positive, got %d", s.Graph.BatchSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}

// StorageConfig maps the storage keys.
func (s *Settings) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(s.Storage.Driver),
		SQLitePath:  s.SQLite.Path,
		PostgresDSN: s.Postgres.DSN,
	}
}

// BlobConfig maps the blob keys.
func (s *Settings) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(s.Blob.Driver),
		FSRoot: s.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          s.Blob.S3.Bucket,
			Region:          s.Blob.S3.Region,
			Endpoint:        s.Blob.S3.Endpoint,
			PathStyle:       s.Blob.S3.PathStyle,
			AccessKeyID:     s.Blob.S3.AccessKeyID,
			SecretAccessKey: s.Blob.S3.SecretAccessKey,
		},
	}
}

// GraphConfig maps the graph keys.
func (s *Settings) GraphConfig() graphsync.Config {
	return graphsync.Config{
		URI:            s.Graph.URI,
		User:           s.Graph.User,
		Password:       s.Graph.Password,
		Database:       s.Graph.Database,
		MaxPoolSize:    s.Graph.MaxPoolSize,
		ConnectTimeout: s.Graph.ConnectTimeout,
	}
}

// PipelineOptions maps the analysis keys.
func (s *Settings) PipelineOptions() []analysis.PipelineOption {
	return []analysis.PipelineOption{
		analysis.WithWorkers(s.Analysis.Workers),
		analysis.WithThreshold(s.Analysis.Threshold),
	}
}
