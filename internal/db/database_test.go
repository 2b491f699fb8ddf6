package db

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLiteStore) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	return conn, mock, NewSQLiteWithConn(conn, clock.Civil)
}

var readingCols = []string{
	"id", "commodity_type", "batch", "temperature", "humidity", "gas_raw", "gas_voltage",
	"observed_state", "recorded_at", "derived_state", "derived_validity", "validity_unit",
	"policy", "model_state", "model_remaining",
}

func TestSQLiteInsert_Success(t *testing.T) {
	conn, mock, store := setupMockDB(t)
	defer conn.Close()

	r := &models.Reading{
		CommodityType:   "banana",
		Temperature:     30,
		Humidity:        72,
		GasRaw:          2300,
		GasVoltage:      1.8,
		RecordedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, clock.Civil),
		DerivedState:    models.StateRipe,
		DerivedValidity: models.IntPtr(3),
		ValidityUnit:    models.UnitDays,
		Policy:          "raw-threshold@1",
	}

	mock.ExpectExec(`INSERT INTO readings`).
		WithArgs(sqlmock.AnyArg(), "banana", nil, 30.0, 72.0, 2300.0, 1.8,
			nil, r.RecordedAt.UTC(), "ripe", int64(3), "days", "raw-threshold@1", nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := store.Insert(context.Background(), r)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteInsert_Error(t *testing.T) {
	conn, mock, store := setupMockDB(t)
	defer conn.Close()

	mock.ExpectExec(`INSERT INTO readings`).WillReturnError(sql.ErrConnDone)

	r := &models.Reading{CommodityType: "banana"}
	_, err := store.Insert(context.Background(), r)

	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Empty(t, r.ID)
}

func TestSQLiteFind_ByCommodityAscending(t *testing.T) {
	conn, mock, store := setupMockDB(t)
	defer conn.Close()

	at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(readingCols).
		AddRow("id-1", "banana", "L1", 30.0, 72.0, 2300.0, 1.8, nil, at, "ripe", int64(3), "days", "raw-threshold@1", nil, nil).
		AddRow("id-2", "banana", nil, nil, 70.0, 2400.0, 1.9, "ripe", at.Add(time.Minute), "ripe", nil, nil, nil, "ripe", 40.5)

	mock.ExpectQuery(`FROM readings WHERE commodity_type = \? ORDER BY recorded_at ASC LIMIT 10`).
		WithArgs("banana").
		WillReturnRows(rows)

	readings, err := store.Find(context.Background(), models.ReadingQuery{CommodityType: "banana", Ascending: true, Limit: 10})

	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "id-1", readings[0].ID)
	assert.Equal(t, "L1", readings[0].Batch)
	assert.Equal(t, 10, readings[0].RecordedAt.Hour())
	assert.Equal(t, clock.Civil, readings[0].RecordedAt.Location())
	require.NotNil(t, readings[0].DerivedValidity)
	assert.Equal(t, 3, *readings[0].DerivedValidity)

	assert.True(t, math.IsNaN(readings[1].Temperature))
	assert.Nil(t, readings[1].DerivedValidity)
	assert.Equal(t, "ripe", readings[1].ObservedState)
	require.NotNil(t, readings[1].ModelRemaining)
	assert.Equal(t, 40.5, *readings[1].ModelRemaining)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteFind_AllDescendingNoFilter(t *testing.T) {
	conn, mock, store := setupMockDB(t)
	defer conn.Close()

	mock.ExpectQuery(`FROM readings ORDER BY recorded_at DESC$`).
		WillReturnRows(sqlmock.NewRows(readingCols))

	readings, err := store.Find(context.Background(), models.ReadingQuery{CommodityType: models.AllCommodities})

	require.NoError(t, err)
	assert.Empty(t, readings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteDistinctValues(t *testing.T) {
	conn, mock, store := setupMockDB(t)
	defer conn.Close()

	mock.ExpectQuery(`SELECT DISTINCT commodity_type FROM readings`).
		WillReturnRows(sqlmock.NewRows([]string{"commodity_type"}).AddRow("banana").AddRow("tomato"))

	values, err := store.DistinctValues(context.Background(), models.FieldCommodityType)

	require.NoError(t, err)
	assert.Equal(t, []string{"banana", "tomato"}, values)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteDistinctValues_UnknownField(t *testing.T) {
	conn, _, store := setupMockDB(t)
	defer conn.Close()

	_, err := store.DistinctValues(context.Background(), "temperature; DROP TABLE readings")
	assert.Error(t, err)
}

func TestSQLiteStats(t *testing.T) {
	conn, mock, store := setupMockDB(t)
	defer conn.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(DISTINCT commodity_type\) FROM readings`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "commodities"}).AddRow(int64(5), 2))
	mock.ExpectQuery(`SELECT derived_state, COUNT\(\*\) FROM readings GROUP BY derived_state`).
		WillReturnRows(sqlmock.NewRows([]string{"derived_state", "count"}).
			AddRow("ripe", int64(3)).
			AddRow("ambient", int64(2)))

	stats, err := store.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalReadings)
	assert.Equal(t, 2, stats.Commodities)
	assert.Equal(t, map[string]int64{"ripe": 3, "ambient": 2}, stats.ByState)
	assert.NoError(t, mock.ExpectationsWereMet())
}
