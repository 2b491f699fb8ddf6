package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ripeness-monitor/internal/models"
)

// aliases maps canonical field names to accepted payload keys, canonical first.
// The second key is the field name used by the first generation of sensor firmware.
var aliases = map[string][]string{
	models.FieldCommodityType: {"commodityType", "tipoFruta", "commodity_type"},
	models.FieldTemperature:   {"temperature", "temperatura"},
	models.FieldHumidity:      {"humidity", "umidade_ar"},
	models.FieldGasRaw:        {"gasRaw", "mq3_raw", "gas_raw"},
	models.FieldGasVoltage:    {"gasVoltage", "mq3_tensao", "gas_voltage"},
	models.FieldBatch:         {"batch", "lote"},
	models.FieldObservedState: {"observedState", "estado_real", "observed_state"},
}

// RequiredFields lists the fields every payload must carry, in check order
var RequiredFields = []string{
	models.FieldCommodityType,
	models.FieldTemperature,
	models.FieldHumidity,
	models.FieldGasRaw,
	models.FieldGasVoltage,
}

// lookup returns the payload value for a canonical field
func (p Payload) lookup(field string) (interface{}, bool) {
	for _, key := range aliases[field] {
		if v, ok := p[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// DecodeReading validates a payload and coerces it into a reading.
// Derived fields and RecordedAt are left for the pipeline to set.
func DecodeReading(p Payload) (models.Reading, error) {
	var r models.Reading

	for _, field := range RequiredFields {
		if _, ok := p.lookup(field); !ok {
			return r, &models.ValidationError{Field: field, Reason: "field is required"}
		}
	}

	raw, _ := p.lookup(models.FieldCommodityType)
	commodity, ok := raw.(string)
	if !ok || strings.TrimSpace(commodity) == "" {
		return r, &models.ValidationError{Field: models.FieldCommodityType, Reason: "must be a non-empty string"}
	}
	r.CommodityType = strings.TrimSpace(commodity)

	numeric := []struct {
		field string
		dst   *float64
	}{
		{models.FieldTemperature, &r.Temperature},
		{models.FieldHumidity, &r.Humidity},
		{models.FieldGasRaw, &r.GasRaw},
		{models.FieldGasVoltage, &r.GasVoltage},
	}
	for _, n := range numeric {
		v, _ := p.lookup(n.field)
		f, ok := CoerceFloat(v)
		if !ok {
			return r, &models.ValidationError{Field: n.field, Reason: fmt.Sprintf("not a number: %v", v)}
		}
		*n.dst = f
	}

	if r.GasRaw != math.Trunc(r.GasRaw) {
		return r, &models.ValidationError{Field: models.FieldGasRaw, Reason: "must be an integer sensor count"}
	}

	if v, ok := p.lookup(models.FieldBatch); ok {
		r.Batch = optionalString(v)
	}
	if v, ok := p.lookup(models.FieldObservedState); ok {
		r.ObservedState = optionalString(v)
	}

	return r, nil
}

// CoerceFloat converts JSON numbers, Go numerics and numeric strings to
// float64. NaN and infinities are rejected.
func CoerceFloat(v interface{}) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func optionalString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// ParseTimestamp tries multiple timestamp formats
func ParseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999-07:00",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	// Try Unix timestamp
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
