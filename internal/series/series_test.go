package series

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, clock.Civil)

func sample(offset time.Duration, temp, hum, gas, volt float64) Sample {
	return Sample{At: base.Add(offset), Values: [numFields]float64{temp, hum, gas, volt}}
}

func TestAggregate_SingleBucketMean(t *testing.T) {
	points := Aggregate([]Sample{
		sample(20*time.Minute, 26, 70, 300, 1.5),
		sample(0, 24, 60, 100, 0.5),
		sample(10*time.Minute, 25, 65, 200, 1.0),
	}, 30*time.Minute, clock.Civil)

	require.Len(t, points, 1)
	p := points[0]
	assert.True(t, p.Timestamp.Equal(base))
	assert.Equal(t, 200.0, p.GasRaw)
	assert.Equal(t, 25.0, p.Temperature)
	assert.Equal(t, 65.0, p.Humidity)
	assert.InDelta(t, 1.0, p.GasVoltage, 1e-9)
	assert.Equal(t, 0.0, p.GasSlope)
}

func TestAggregate_SkipsEmptyBuckets(t *testing.T) {
	points := Aggregate([]Sample{
		sample(0, 24, 60, 100, 1),
		sample(3*time.Hour, 24, 60, 400, 1),
	}, 30*time.Minute, clock.Civil)

	require.Len(t, points, 2)
	assert.True(t, points[1].Timestamp.Equal(base.Add(3*time.Hour)))
	assert.Equal(t, 300.0, points[1].GasSlope)
}

func TestAggregate_FillsGaps(t *testing.T) {
	nan := math.NaN()
	points := Aggregate([]Sample{
		sample(0, nan, 60, nan, 1),
		sample(40*time.Minute, 22, nan, 500, 1),
		sample(70*time.Minute, nan, nan, nan, 1),
	}, 30*time.Minute, clock.Civil)

	require.Len(t, points, 3)
	for _, p := range points {
		assert.Equal(t, 500.0, p.GasRaw)
		assert.Equal(t, 22.0, p.Temperature)
		assert.Equal(t, 60.0, p.Humidity)
		assert.Equal(t, 0.0, p.GasSlope)
	}
}

func TestAggregate_FieldWithoutValuesStaysMissing(t *testing.T) {
	nan := math.NaN()
	points := Aggregate([]Sample{
		sample(0, 24, 60, 100, nan),
		sample(45*time.Minute, 24, 60, 150, nan),
	}, 30*time.Minute, clock.Civil)

	require.Len(t, points, 2)
	assert.True(t, math.IsNaN(points[0].GasVoltage))
	assert.Equal(t, 50.0, points[1].GasSlope)
}

func TestAggregate_Idempotent(t *testing.T) {
	first := Aggregate([]Sample{
		sample(0, 24, 60, 100, 1),
		sample(10*time.Minute, 25, 61, 110, 1.1),
		sample(50*time.Minute, 26, 62, 180, 1.2),
		sample(2*time.Hour, 27, 63, 260, 1.3),
	}, 30*time.Minute, clock.Civil)

	second := Aggregate(FromPoints(first), 30*time.Minute, clock.Civil)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Timestamp.Equal(second[i].Timestamp))
		assert.Equal(t, first[i].GasRaw, second[i].GasRaw)
		assert.Equal(t, first[i].Temperature, second[i].Temperature)
		assert.Equal(t, first[i].GasSlope, second[i].GasSlope)
	}
}

func TestAggregate_Empty(t *testing.T) {
	points := Aggregate(nil, 30*time.Minute, clock.Civil)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestAggregate_RendersCivilTime(t *testing.T) {
	points := Aggregate([]Sample{
		{At: time.Date(2024, 5, 1, 13, 10, 0, 0, time.UTC), Values: [numFields]float64{1, 1, 1, 1}},
	}, 30*time.Minute, clock.Civil)

	require.Len(t, points, 1)
	assert.Equal(t, 10, points[0].Timestamp.Hour())
	assert.Equal(t, clock.Civil, points[0].Timestamp.Location())
}

func TestEstimate(t *testing.T) {
	point := func(gas float64) models.AggregatedPoint { return models.AggregatedPoint{GasRaw: gas} }

	t.Run("rising", func(t *testing.T) {
		est, ok := Estimate([]models.AggregatedPoint{point(100), point(200), point(300)})
		require.True(t, ok)
		assert.InDelta(t, 100.0, est.Slope, 1e-9)
		assert.InDelta(t, 100.0, est.Intercept, 1e-9)
		assert.Equal(t, models.DirectionRising, est.Direction)
	})

	t.Run("falling", func(t *testing.T) {
		est, ok := Estimate([]models.AggregatedPoint{point(300), point(250), point(100)})
		require.True(t, ok)
		assert.Less(t, est.Slope, 0.0)
		assert.Equal(t, models.DirectionFalling, est.Direction)
	})

	t.Run("flat is falling", func(t *testing.T) {
		est, ok := Estimate([]models.AggregatedPoint{point(200), point(200)})
		require.True(t, ok)
		assert.Equal(t, 0.0, est.Slope)
		assert.Equal(t, models.DirectionFalling, est.Direction)
	})

	t.Run("single point", func(t *testing.T) {
		est, ok := Estimate([]models.AggregatedPoint{point(700)})
		require.True(t, ok)
		assert.Equal(t, 0.0, est.Slope)
		assert.Equal(t, 700.0, est.Intercept)
	})

	t.Run("empty", func(t *testing.T) {
		_, ok := Estimate(nil)
		assert.False(t, ok)
	})

	t.Run("skips missing means", func(t *testing.T) {
		_, ok := Estimate([]models.AggregatedPoint{point(math.NaN())})
		assert.False(t, ok)
	})
}

type failingStore struct {
	db.Store
}

func (failingStore) Find(context.Context, models.ReadingQuery) ([]models.Reading, error) {
	return nil, errors.New("connection refused")
}

func TestService_SeriesAndTrend(t *testing.T) {
	store := db.NewMemory(clock.Civil)
	for i, gas := range []float64{1000, 1200, 1500} {
		_, err := store.Insert(context.Background(), &models.Reading{
			CommodityType: "tomato",
			Temperature:   25,
			Humidity:      60,
			GasRaw:        gas,
			GasVoltage:    1,
			RecordedAt:    base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := store.Insert(context.Background(), &models.Reading{CommodityType: "banana", GasRaw: 5, RecordedAt: base})
	require.NoError(t, err)

	svc := NewService(store, Config{}, nil)

	points, err := svc.Series(context.Background(), "tomato")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 1000.0, points[0].GasRaw)
	assert.Equal(t, 300.0, points[2].GasSlope)

	est, ok, err := svc.Trend(context.Background(), "tomato")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.DirectionRising, est.Direction)

	_, ok, err = svc.Trend(context.Background(), "mango")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_StoreFailure(t *testing.T) {
	svc := NewService(failingStore{}, Config{StoreTimeout: time.Second}, nil)

	_, err := svc.Series(context.Background(), "tomato")

	var upstream *models.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.True(t, upstream.Retryable)
	assert.Equal(t, "store", upstream.Component)
}

func TestService_AllSelectorAliases(t *testing.T) {
	store := db.NewMemory(clock.Civil)
	_, err := store.Insert(context.Background(), &models.Reading{
		CommodityType: "tomato", Temperature: 25, Humidity: 60, GasRaw: 1000, GasVoltage: 1, RecordedAt: base,
	})
	require.NoError(t, err)

	svc := NewService(store, Config{}, nil)

	for _, selector := range []string{"all", "ALL", "todas", " Todas "} {
		t.Run(selector, func(t *testing.T) {
			points, err := svc.Series(context.Background(), selector)
			require.NoError(t, err)
			require.Len(t, points, 1)
			assert.Equal(t, 1000.0, points[0].GasRaw)

			est, ok, err := svc.Trend(context.Background(), selector)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 1000.0, est.Intercept)
		})
	}
}
