// Package blob selects the artifact store backend. Callers outside this
// package depend on core.Store only.
package blob

import (
	"context"
	"fmt"

	"greenhouse/internal/blob/core"
	"greenhouse/internal/infra/blob/fs"
	"greenhouse/internal/infra/blob/memory"
	"greenhouse/internal/infra/blob/s3"
)

type (
	Store      = core.Store
	Object     = core.Object
	PutOptions = core.PutOptions
)

// Config picks a driver and carries its settings.
type Config struct {
	Driver core.Driver
	FSRoot string
	S3     s3.Config
}

// Open builds the configured store. An empty driver selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", core.DriverMemory:
		return memory.New(), nil
	case core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
