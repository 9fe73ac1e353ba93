package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Drivers accepted by Open.
const (
	DriverBolt   = "bolt"
	DriverGridFS = "gridfs"
)

// Config selects and configures an ObjectStore.
type Config struct {
	Driver        string
	Path          string
	MongoURI      string
	MongoDatabase string
	Clock         func() time.Time
}

// Open builds the ObjectStore named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverBolt, "":
		return NewBoltStore(cfg.Path, cfg.Clock)
	case DriverGridFS:
		return NewGridFSStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Clock)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
