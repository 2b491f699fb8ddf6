// Package pipeline validates, classifies, persists and fans out readings.
package pipeline

import (
	"context"
	"errors"
	"time"

	"ripeness-monitor/internal/broadcast"
	"ripeness-monitor/internal/classifier"
	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/enrich"
	"ripeness-monitor/internal/metrics"
	"ripeness-monitor/internal/models"
	"ripeness-monitor/internal/parser"

	"go.uber.org/zap"
)

// DefaultStoreTimeout bounds a single insert
const DefaultStoreTimeout = 5 * time.Second

// Options wires the pipeline's collaborators
type Options struct {
	Store        db.Store
	Broadcaster  broadcast.Broadcaster
	Clock        clock.Clock
	Selector     *classifier.Selector
	Enricher     enrich.Enricher
	StoreTimeout time.Duration
	Topic        string
	Location     *time.Location
	Logger       *zap.Logger
}

// Pipeline turns raw payloads into stored, broadcast readings
type Pipeline struct {
	store        db.Store
	broadcaster  broadcast.Broadcaster
	clock        clock.Clock
	selector     *classifier.Selector
	enricher     enrich.Enricher
	storeTimeout time.Duration
	topic        string
	loc          *time.Location
	logger       *zap.Logger
}

// New creates a pipeline. Store and Selector are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Selector == nil {
		return nil, errors.New("pipeline: rule policy selector is required")
	}

	p := &Pipeline{
		store:        opts.Store,
		broadcaster:  opts.Broadcaster,
		clock:        opts.Clock,
		selector:     opts.Selector,
		enricher:     opts.Enricher,
		storeTimeout: opts.StoreTimeout,
		topic:        opts.Topic,
		loc:          opts.Location,
		logger:       opts.Logger,
	}
	if p.broadcaster == nil {
		p.broadcaster = broadcast.Nop{}
	}
	if p.clock == nil {
		p.clock = clock.NewSystem()
	}
	if p.enricher == nil {
		p.enricher = enrich.Nop{}
	}
	if p.storeTimeout <= 0 {
		p.storeTimeout = DefaultStoreTimeout
	}
	if p.topic == "" {
		p.topic = broadcast.EventNewData
	}
	if p.loc == nil {
		p.loc = clock.Civil
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Ingest validates and classifies one payload, persists it, then publishes
// it. Validation failures return a *models.ValidationError and touch
// neither the store nor the broadcaster. Store failures return a retryable
// *models.UpstreamError and are never broadcast. Broadcast failures are
// only logged.
func (p *Pipeline) Ingest(ctx context.Context, payload parser.Payload) (*models.Reading, error) {
	r, err := parser.DecodeReading(payload)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("invalid").Inc()
		p.logger.Info("rejected payload", zap.Error(err))
		return nil, err
	}

	r.RecordedAt = p.clock.Now().In(p.loc)

	res := p.selector.Apply(&r)
	metrics.ClassifiedTotal.WithLabelValues(res.Policy, string(res.State)).Inc()

	p.enrich(ctx, &r)

	if err := p.persist(ctx, &r); err != nil {
		metrics.IngestTotal.WithLabelValues("upstream").Inc()
		return nil, err
	}
	metrics.IngestTotal.WithLabelValues("ok").Inc()

	p.logger.Debug("reading ingested",
		zap.String("id", r.ID),
		zap.String("commodity", r.CommodityType),
		zap.String("state", string(r.DerivedState)),
		zap.String("policy", r.Policy),
	)

	p.publish(ctx, r)
	return &r, nil
}

func (p *Pipeline) enrich(ctx context.Context, r *models.Reading) {
	prediction, err := p.enricher.Predict(ctx, *r)
	if err != nil {
		metrics.EnrichErrorTotal.Inc()
		p.logger.Warn("model enrichment failed",
			zap.String("commodity", r.CommodityType),
			zap.Error(err),
		)
		return
	}
	enrich.Apply(r, prediction)
}

func (p *Pipeline) persist(ctx context.Context, r *models.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	start := time.Now()
	id, err := p.store.Insert(ctx, r)
	if err != nil {
		metrics.StoreDurationSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
		p.logger.Error("failed to persist reading",
			zap.String("commodity", r.CommodityType),
			zap.Error(err),
		)
		return &models.UpstreamError{Component: "store", Op: "insert", Err: err, Retryable: true}
	}
	metrics.StoreDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	r.ID = id
	return nil
}

// publish hands a copy of the stored reading to the broadcaster
func (p *Pipeline) publish(ctx context.Context, r models.Reading) {
	if err := p.broadcaster.Publish(context.WithoutCancel(ctx), p.topic, r); err != nil {
		metrics.BroadcastErrorTotal.WithLabelValues("pipeline").Inc()
		p.logger.Warn("broadcast failed",
			zap.String("id", r.ID),
			zap.String("topic", p.topic),
			zap.Error(err),
		)
	}
}
