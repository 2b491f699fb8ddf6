package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore wraps the SQLite connection
type SQLiteStore struct {
	conn *sql.DB
	loc  *time.Location
}

// columns maps distinct-able reading fields to their column
var columns = map[string]string{
	models.FieldCommodityType: "commodity_type",
	models.FieldBatch:         "batch",
	models.FieldObservedState: "observed_state",
	models.FieldDerivedState:  "derived_state",
}

const readingColumns = `id, commodity_type, batch, temperature, humidity, gas_raw, gas_voltage,
	       observed_state, recorded_at, derived_state, derived_validity, validity_unit,
	       policy, model_state, model_remaining`

// NewSQLite opens (and creates) the database at dbPath
func NewSQLite(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := NewSQLiteWithConn(conn, loc)
	if err := s.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// NewSQLiteWithConn wraps an existing connection without touching the schema
func NewSQLiteWithConn(conn *sql.DB, loc *time.Location) *SQLiteStore {
	if loc == nil {
		loc = clock.Civil
	}
	return &SQLiteStore{conn: conn, loc: loc}
}

// initialize creates tables and indexes
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		commodity_type TEXT NOT NULL,
		batch TEXT,
		temperature REAL,
		humidity REAL,
		gas_raw REAL,
		gas_voltage REAL,
		observed_state TEXT,
		recorded_at DATETIME NOT NULL,
		derived_state TEXT NOT NULL,
		derived_validity INTEGER,
		validity_unit TEXT,
		policy TEXT,
		model_state TEXT,
		model_remaining REAL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_commodity ON readings(commodity_type);
	CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_readings_commodity_recorded ON readings(commodity_type, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_readings_state ON readings(derived_state);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Insert adds a single reading and assigns its id
func (s *SQLiteStore) Insert(ctx context.Context, r *models.Reading) (string, error) {
	id := uuid.NewString()

	query := `
		INSERT INTO readings
		(id, commodity_type, batch, temperature, humidity, gas_raw, gas_voltage,
		 observed_state, recorded_at, derived_state, derived_validity, validity_unit,
		 policy, model_state, model_remaining)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		id, r.CommodityType, nullString(r.Batch),
		nullFloat(r.Temperature), nullFloat(r.Humidity), nullFloat(r.GasRaw), nullFloat(r.GasVoltage),
		nullString(r.ObservedState), r.RecordedAt.UTC(), string(r.DerivedState), nullInt(r.DerivedValidity),
		nullString(string(r.ValidityUnit)), nullString(r.Policy), nullString(r.ModelState), nullFloatPtr(r.ModelRemaining),
	)
	if err != nil {
		return "", fmt.Errorf("insert reading: %w", err)
	}

	r.ID = id
	return id, nil
}

// Find retrieves readings ordered by recorded time
func (s *SQLiteStore) Find(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error) {
	var conditions []string
	var args []interface{}

	query := `SELECT ` + readingColumns + ` FROM readings`

	if !matchesAll(q.CommodityType) {
		conditions = append(conditions, "commodity_type = ?")
		args = append(args, q.CommodityType)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if q.Ascending {
		query += " ORDER BY recorded_at ASC"
	} else {
		query += " ORDER BY recorded_at DESC"
	}

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var results []models.Reading
	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func (s *SQLiteStore) scanReading(rows *sql.Rows) (models.Reading, error) {
	var r models.Reading
	var batch, observed, unit, policy, modelState sql.NullString
	var temp, hum, gasRaw, gasVolt, modelRemaining sql.NullFloat64
	var validity sql.NullInt64
	var state string

	err := rows.Scan(
		&r.ID, &r.CommodityType, &batch, &temp, &hum, &gasRaw, &gasVolt,
		&observed, &r.RecordedAt, &state, &validity, &unit,
		&policy, &modelState, &modelRemaining,
	)
	if err != nil {
		return r, fmt.Errorf("scan reading: %w", err)
	}

	r.Batch = batch.String
	r.ObservedState = observed.String
	r.Temperature = floatOrNaN(temp)
	r.Humidity = floatOrNaN(hum)
	r.GasRaw = floatOrNaN(gasRaw)
	r.GasVoltage = floatOrNaN(gasVolt)
	r.RecordedAt = r.RecordedAt.In(s.loc)
	r.DerivedState = models.State(state)
	if validity.Valid {
		r.DerivedValidity = models.IntPtr(int(validity.Int64))
	}
	r.ValidityUnit = models.ValidityUnit(unit.String)
	r.Policy = policy.String
	r.ModelState = modelState.String
	if modelRemaining.Valid {
		v := modelRemaining.Float64
		r.ModelRemaining = &v
	}
	return r, nil
}

// DistinctValues returns the distinct non-empty values of a reading field
func (s *SQLiteStore) DistinctValues(ctx context.Context, field string) ([]string, error) {
	col, ok := columns[field]
	if !ok {
		return nil, fmt.Errorf("field %q does not support distinct values", field)
	}

	query := fmt.Sprintf(`SELECT DISTINCT %s FROM readings WHERE %s IS NOT NULL AND %s != '' ORDER BY %s`, col, col, col, col)
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", field, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Stats returns database statistics
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{ByState: map[string]int64{}}

	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT commodity_type) FROM readings",
	).Scan(&stats.TotalReadings, &stats.Commodities)
	if err != nil {
		return nil, fmt.Errorf("count readings: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT derived_state, COUNT(*) FROM readings GROUP BY derived_state",
	)
	if err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		stats.ByState[state] = n
	}
	return stats, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return nullFloat(*v)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
