package models

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Field names shared by stores and payload decoding
const (
	FieldCommodityType = "commodityType"
	FieldTemperature   = "temperature"
	FieldHumidity      = "humidity"
	FieldGasRaw        = "gasRaw"
	FieldGasVoltage    = "gasVoltage"
	FieldBatch         = "batch"
	FieldObservedState = "observedState"
	FieldRecordedAt    = "recordedAt"
	FieldDerivedState  = "derivedState"
)

// AllCommodities is the selector matching every commodity type
const AllCommodities = "all"

// legacyAllCommodities is the selector older dashboards send for AllCommodities
const legacyAllCommodities = "todas"

// IsAllSelector reports whether selector asks for every commodity.
// Matching is case-insensitive and ignores surrounding space.
func IsAllSelector(selector string) bool {
	s := strings.ToLower(strings.TrimSpace(selector))
	return s == AllCommodities || s == legacyAllCommodities
}

// State is the ripeness classification assigned to a reading
type State string

const (
	StateAmbient  State = "ambient"
	StateRipe     State = "ripe"
	StateOverripe State = "overripe"
	StateNoRisk   State = "no risk"
	StateAlert    State = "alert"
	StateLossRisk State = "loss risk"
)

// ValidityUnit is the unit of a derived validity value
type ValidityUnit string

const (
	UnitDays  ValidityUnit = "days"
	UnitHours ValidityUnit = "hours"
)

// Reading is one sensor sample for a stored commodity.
//
// Numeric fields read back from a store may be NaN when the stored document
// lacked the value or held something non-numeric.
type Reading struct {
	ID            string    `json:"id"`
	CommodityType string    `json:"commodityType"`
	Batch         string    `json:"batch,omitempty"`
	Temperature   float64   `json:"temperature"` // Celsius
	Humidity      float64   `json:"humidity"`    // percentage
	GasRaw        float64   `json:"gasRaw"`      // ADC count
	GasVoltage    float64   `json:"gasVoltage"`  // volts
	ObservedState string    `json:"observedState,omitempty"`
	RecordedAt    time.Time `json:"recordedAt"`

	DerivedState    State        `json:"derivedState"`
	DerivedValidity *int         `json:"derivedValidity"`
	ValidityUnit    ValidityUnit `json:"validityUnit,omitempty"`
	Policy          string       `json:"policy,omitempty"`

	// Optional model enrichment, never a substitute for the derived pair
	ModelState     string   `json:"modelState,omitempty"`
	ModelRemaining *float64 `json:"modelRemaining,omitempty"`
}

// MarshalJSON renders NaN numerics as null
func (r Reading) MarshalJSON() ([]byte, error) {
	type plain Reading
	return json.Marshal(struct {
		plain
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
		GasRaw      *float64 `json:"gasRaw"`
		GasVoltage  *float64 `json:"gasVoltage"`
	}{
		plain:       plain(r),
		Temperature: OptFloat(r.Temperature),
		Humidity:    OptFloat(r.Humidity),
		GasRaw:      OptFloat(r.GasRaw),
		GasVoltage:  OptFloat(r.GasVoltage),
	})
}

// ReadingQuery represents query parameters for reading history
type ReadingQuery struct {
	CommodityType string // empty or an IsAllSelector value matches everything
	Ascending     bool   // order by RecordedAt
	Limit         int    // 0 = unlimited
}

// AggregatedPoint is one row of a resampled series
type AggregatedPoint struct {
	Timestamp   time.Time
	Temperature float64
	Humidity    float64
	GasRaw      float64
	GasVoltage  float64
	GasSlope    float64
}

// MarshalJSON renders the timestamp as ISO-8601 and missing means as null
func (p AggregatedPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp   string   `json:"timestamp"`
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
		GasRaw      *float64 `json:"gasRaw"`
		GasVoltage  *float64 `json:"gasVoltage"`
		GasSlope    float64  `json:"gasSlope"`
	}{
		Timestamp:   p.Timestamp.Format(time.RFC3339),
		Temperature: OptFloat(p.Temperature),
		Humidity:    OptFloat(p.Humidity),
		GasRaw:      OptFloat(p.GasRaw),
		GasVoltage:  OptFloat(p.GasVoltage),
		GasSlope:    p.GasSlope,
	})
}

// Trend directions
const (
	DirectionRising  = "rising"
	DirectionFalling = "falling"
)

// TrendEstimate is a linear fit of mean gas counts over the bucket index
type TrendEstimate struct {
	Slope     float64 `json:"coefficient"`
	Intercept float64 `json:"intercept"`
	Direction string  `json:"direction"`
}

// Stats summarizes the stored history
type Stats struct {
	TotalReadings int64            `json:"total_readings"`
	Commodities   int              `json:"commodities"`
	ByState       map[string]int64 `json:"by_state"`
}

// OptFloat returns nil for NaN, otherwise a pointer to v
func OptFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
