package blob

import (
	"context"
	"fmt"
	"os"

	"conservatory/internal/infra/blob/fs"
	memorystore "conservatory/internal/infra/blob/memory"
	infraS3 "conservatory/internal/infra/blob/s3"
)

// S3Config re-exports the S3 driver configuration.
type S3Config = infraS3.Config

// Open selects a Store implementation using environment variables.
//
//	CONSERVATORY_BLOB_DRIVER: fs|s3|memory (default fs)
//	CONSERVATORY_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	CONSERVATORY_BLOB_S3_*: see the s3 driver
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("CONSERVATORY_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("CONSERVATORY_BLOB_FS_ROOT"))
	case DriverS3:
		return infraS3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store from cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}
