package db

import (
	"context"
	"fmt"
	"time"

	"ripeness-monitor/internal/models"
)

// Store persists readings. Implementations must make Insert atomic per
// reading; callers never update a stored reading in place.
type Store interface {
	Insert(ctx context.Context, r *models.Reading) (string, error)
	Find(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error)
	DistinctValues(ctx context.Context, field string) ([]string, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Close() error
}

// Drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Options selects and configures a store driver
type Options struct {
	Driver          string
	SQLitePath      string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	Location        *time.Location
}

// Open connects the configured store
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.SQLitePath, opts.Location)
	case DriverMongo:
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoCollection, opts.Location)
	case DriverMemory:
		return NewMemory(opts.Location), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", opts.Driver)
	}
}

func matchesAll(commodity string) bool {
	return commodity == "" || models.IsAllSelector(commodity)
}
