package series

import (
	"context"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/models"

	"go.uber.org/zap"
)

// DefaultFetchLimit caps how many recent readings a series is built from
const DefaultFetchLimit = 2000

// Config tunes series queries
type Config struct {
	BucketWidth  time.Duration
	FetchLimit   int
	StoreTimeout time.Duration
	Location     *time.Location
}

// Service builds series and trends from stored history
type Service struct {
	store  db.Store
	cfg    Config
	logger *zap.Logger
}

// NewService creates a series service over store
func NewService(store db.Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = DefaultBucketWidth
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if cfg.Location == nil {
		cfg.Location = clock.Civil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

// BucketWidth returns the configured resampling cadence
func (s *Service) BucketWidth() time.Duration {
	return s.cfg.BucketWidth
}

// Series returns the aggregated series for a commodity or "all"
func (s *Service) Series(ctx context.Context, commodity string) ([]models.AggregatedPoint, error) {
	samples, err := s.history(ctx, commodity)
	if err != nil {
		return nil, err
	}
	return Aggregate(samples, s.cfg.BucketWidth, s.cfg.Location), nil
}

// Trend fits the aggregated series; ok is false when there is no data
func (s *Service) Trend(ctx context.Context, commodity string) (est models.TrendEstimate, ok bool, err error) {
	points, err := s.Series(ctx, commodity)
	if err != nil {
		return est, false, err
	}
	est, ok = Estimate(points)
	return est, ok, nil
}

// history fetches the most recent readings, newest first
func (s *Service) history(ctx context.Context, commodity string) ([]Sample, error) {
	if s.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
	}

	q := models.ReadingQuery{CommodityType: commodity, Limit: s.cfg.FetchLimit}
	if models.IsAllSelector(commodity) {
		q.CommodityType = ""
	}
	readings, err := s.store.Find(ctx, q)
	if err != nil {
		s.logger.Error("failed to fetch history", zap.String("commodity", commodity), zap.Error(err))
		return nil, &models.UpstreamError{Component: "store", Op: "find", Err: err, Retryable: true}
	}

	s.logger.Debug("fetched history", zap.String("commodity", commodity), zap.Int("readings", len(readings)))
	return FromReadings(readings), nil
}
