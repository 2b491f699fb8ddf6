// Package export writes a commodity's stored history as CSV.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/models"

	"go.uber.org/zap"
)

// Header is the CSV column order
var Header = []string{
	"timestamp",
	"commodityType",
	"batch",
	"temperature",
	"humidity",
	"gasRaw",
	"gasVoltage",
	"derivedState",
	"observedState",
	"derivedValidity",
	"validityUnit",
}

// IsAll reports whether selector asks for every commodity
func IsAll(selector string) bool {
	return models.IsAllSelector(selector)
}

// Exporter dumps stored history to CSV files, one per commodity
type Exporter struct {
	store   db.Store
	dir     string
	timeout time.Duration
	loc     *time.Location
	logger  *zap.Logger
}

// New creates an exporter writing into dir
func New(store db.Store, dir string, timeout time.Duration, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, dir: dir, timeout: timeout, loc: clock.Civil, logger: logger}
}

// Export writes one file per selected commodity and returns their paths.
// A single commodity without history is a *models.NotFoundError; under the
// "all" selector such commodities are skipped.
func (e *Exporter) Export(ctx context.Context, selector string) ([]string, error) {
	if !IsAll(selector) {
		path, err := e.exportOne(ctx, selector, FileName(selector))
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	commodities, err := e.distinct(ctx)
	if err != nil {
		return nil, err
	}

	paths := []string{}
	names := make(map[string]bool, len(commodities))
	for _, c := range commodities {
		path, err := e.exportOne(ctx, c, uniqueName(names, FileName(c)))
		var nf *models.NotFoundError
		switch {
		case err == nil:
			paths = append(paths, path)
		case errors.As(err, &nf):
			e.logger.Debug("skipping commodity without history", zap.String("commodity", c))
		default:
			return paths, err
		}
	}

	e.logger.Info("export finished", zap.String("selector", selector), zap.Int("files", len(paths)))
	return paths, nil
}

// Stream writes one commodity's history to w. An "all" selector streams
// every commodity into the same document.
func (e *Exporter) Stream(ctx context.Context, w io.Writer, commodity string) error {
	readings, err := e.history(ctx, commodity)
	if err != nil {
		return err
	}
	return Write(w, readings, e.loc)
}

func (e *Exporter) exportOne(ctx context.Context, commodity, name string) (string, error) {
	readings, err := e.history(ctx, commodity)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	path := filepath.Join(e.dir, name)
	tmp, err := os.CreateTemp(e.dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, readings, e.loc); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	e.logger.Debug("exported commodity", zap.String("commodity", commodity), zap.String("path", path), zap.Int("rows", len(readings)))
	return path, nil
}

// history returns the full ascending history, or NotFound when empty
func (e *Exporter) history(ctx context.Context, commodity string) ([]models.Reading, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	readings, err := e.store.Find(ctx, models.ReadingQuery{CommodityType: commodity, Ascending: true})
	if err != nil {
		return nil, &models.UpstreamError{Component: "store", Op: "find", Err: err, Retryable: true}
	}
	if len(readings) == 0 {
		return nil, &models.NotFoundError{Selector: commodity}
	}
	return readings, nil
}

func (e *Exporter) distinct(ctx context.Context) ([]string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	values, err := e.store.DistinctValues(ctx, models.FieldCommodityType)
	if err != nil {
		return nil, &models.UpstreamError{Component: "store", Op: "distinct", Err: err, Retryable: true}
	}
	return values, nil
}

func (e *Exporter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

// Write serializes readings in the given order
func Write(w io.Writer, readings []models.Reading, loc *time.Location) error {
	if loc == nil {
		loc = clock.Civil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range readings {
		validity := ""
		if r.DerivedValidity != nil {
			validity = strconv.Itoa(*r.DerivedValidity)
		}
		record := []string{
			r.RecordedAt.In(loc).Format(time.RFC3339),
			r.CommodityType,
			r.Batch,
			formatFloat(r.Temperature),
			formatFloat(r.Humidity),
			formatFloat(r.GasRaw),
			formatFloat(r.GasVoltage),
			string(r.DerivedState),
			r.ObservedState,
			validity,
			string(r.ValidityUnit),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName maps a commodity to a safe file name
func FileName(commodity string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(commodity) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed.csv"
	}
	return b.String() + ".csv"
}

// uniqueName returns name, or name with a -N suffix when a commodity
// exported earlier in the same run already took it. Names compare
// case-insensitively.
func uniqueName(used map[string]bool, name string) string {
	base := strings.TrimSuffix(name, ".csv")
	candidate := name
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s-%d.csv", base, i)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
