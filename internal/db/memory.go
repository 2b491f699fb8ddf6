package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps readings in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	readings []models.Reading
	loc      *time.Location
}

// NewMemory creates an empty in-memory store
func NewMemory(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = clock.Civil
	}
	return &MemoryStore{loc: loc}
}

func (m *MemoryStore) Insert(ctx context.Context, r *models.Reading) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = uuid.NewString()
	m.readings = append(m.readings, *r)
	return r.ID, nil
}

func (m *MemoryStore) Find(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var out []models.Reading
	for _, r := range m.readings {
		if matchesAll(q.CommodityType) || r.CommodityType == q.CommodityType {
			r.RecordedAt = r.RecordedAt.In(m.loc)
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if q.Ascending {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DistinctValues(ctx context.Context, field string) ([]string, error) {
	var get func(models.Reading) string
	switch field {
	case models.FieldCommodityType:
		get = func(r models.Reading) string { return r.CommodityType }
	case models.FieldBatch:
		get = func(r models.Reading) string { return r.Batch }
	case models.FieldObservedState:
		get = func(r models.Reading) string { return r.ObservedState }
	case models.FieldDerivedState:
		get = func(r models.Reading) string { return string(r.DerivedState) }
	default:
		return nil, fmt.Errorf("field %q does not support distinct values", field)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	values := []string{}
	for _, r := range m.readings {
		v := get(r)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.Stats{ByState: map[string]int64{}}
	commodities := map[string]bool{}
	for _, r := range m.readings {
		stats.TotalReadings++
		stats.ByState[string(r.DerivedState)]++
		commodities[r.CommodityType] = true
	}
	stats.Commodities = len(commodities)
	return stats, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
