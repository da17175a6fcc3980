package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver
	// FSRoot is the directory root when Driver is fs (default ./blobdata).
	FSRoot string
	// FSBaseURL prefixes object keys when the fs backend renders URLs.
	FSBaseURL string
	S3        S3Config
}

// Open returns the backend named by cfg.Driver; an empty driver selects fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.FSBaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
