package blob

import (
	"coexcore/internal/infra/blob/fs"
	memorystore "coexcore/internal/infra/blob/memory"
	infraS3 "coexcore/internal/infra/blob/s3"
	"context"
	"fmt"
	"os"
	"strings"
)

// S3Config configures the S3 driver.
type S3Config = infraS3.Config

// Config selects and parameterizes a blob driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// ConfigFromEnv reads the blob selection from the environment.
//
//	COEXCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	COEXCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./exports)
//	COEXCORE_BLOB_S3_BUCKET, COEXCORE_BLOB_S3_REGION, COEXCORE_BLOB_S3_ENDPOINT,
//	COEXCORE_BLOB_S3_PATH_STYLE, COEXCORE_BLOB_S3_ACCESS_KEY_ID,
//	COEXCORE_BLOB_S3_SECRET_ACCESS_KEY: S3 settings when driver=s3
func ConfigFromEnv() Config {
	driver := os.Getenv("COEXCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	return Config{
		Driver: Driver(driver),
		FSRoot: os.Getenv("COEXCORE_BLOB_FS_ROOT"),
		S3: S3Config{
			Bucket:          os.Getenv("COEXCORE_BLOB_S3_BUCKET"),
			Region:          os.Getenv("COEXCORE_BLOB_S3_REGION"),
			Endpoint:        os.Getenv("COEXCORE_BLOB_S3_ENDPOINT"),
			PathStyle:       strings.EqualFold(os.Getenv("COEXCORE_BLOB_S3_PATH_STYLE"), "true"),
			AccessKeyID:     os.Getenv("COEXCORE_BLOB_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("COEXCORE_BLOB_S3_SECRET_ACCESS_KEY"),
		},
	}
}

// Open constructs the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem returns a store rooted at root, creating it if needed.
func NewFilesystem(root string) (Store, error) {
	s, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
