// Package enrich attaches optional model predictions to classified readings.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ripeness-monitor/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Prediction is a model's opinion on a reading
type Prediction struct {
	State     string   `json:"state"`
	Remaining *float64 `json:"remaining"` // hours
}

// Enricher predicts a reading's state with an external model
type Enricher interface {
	Predict(ctx context.Context, r models.Reading) (*Prediction, error)
}

// Nop is used when no model is configured
type Nop struct{}

func (Nop) Predict(context.Context, models.Reading) (*Prediction, error) { return nil, nil }

// Apply records p on r. The derived state and validity are left untouched.
func Apply(r *models.Reading, p *Prediction) {
	if p == nil {
		return
	}
	r.ModelState = p.State
	r.ModelRemaining = p.Remaining
}

type predictRequest struct {
	CommodityType string   `json:"commodityType"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	GasRaw        *float64 `json:"gasRaw"`
	GasVoltage    *float64 `json:"gasVoltage"`
}

// HTTPEnricher calls an inference service over HTTP
type HTTPEnricher struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// PredictPath is the inference endpoint relative to the base URL
const PredictPath = "/predict"

// NewHTTPEnricher creates a client for the inference service at baseURL
func NewHTTPEnricher(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPEnricher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(100*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPEnricher{httpClient: client, logger: logger}
}

func (e *HTTPEnricher) Predict(ctx context.Context, r models.Reading) (*Prediction, error) {
	request := predictRequest{
		CommodityType: r.CommodityType,
		Temperature:   models.OptFloat(r.Temperature),
		Humidity:      models.OptFloat(r.Humidity),
		GasRaw:        models.OptFloat(r.GasRaw),
		GasVoltage:    models.OptFloat(r.GasVoltage),
	}

	var prediction Prediction
	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&prediction).
		Post(PredictPath)
	if err != nil {
		return nil, fmt.Errorf("failed to call model service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("model service returned status %d", resp.StatusCode())
	}

	e.logger.Debug("model prediction",
		zap.String("commodity", r.CommodityType),
		zap.String("state", prediction.State),
	)
	return &prediction, nil
}
