package blob

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nvandessel/monosim/internal/config"
	"github.com/nvandessel/monosim/internal/constants"
)

// Open selects a Store implementation from configuration. An empty
// filesystem root resolves to <dataDir>/snapshots.
func Open(ctx context.Context, cfg config.BlobConfig, dataDir string) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		root := cfg.Root
		if root == "" {
			root = filepath.Join(dataDir, constants.SnapshotDirName)
		}
		return NewFilesystem(root)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Endpoint:  cfg.Endpoint,
			Prefix:    cfg.Prefix,
			PathStyle: cfg.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
