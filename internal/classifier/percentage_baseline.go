package classifier

import "ripeness-monitor/internal/models"

// TomatoBaseline is the gas count of fresh tomatoes in storage air
const TomatoBaseline = 930

// DefaultBaselines lists the baseline-sensitive commodities
var DefaultBaselines = map[string]float64{
	"tomato": TomatoBaseline,
	"tomate": TomatoBaseline,
}

// PercentageBaseline classifies baseline-sensitive commodities on the
// relative increase over their baseline and every other commodity on
// absolute gas counts. Validity is expressed in hours.
var PercentageBaseline = NewPercentageBaseline(DefaultBaselines)

// NewPercentageBaseline builds the percentage policy for the given
// commodity baselines. The map is copied.
func NewPercentageBaseline(baselines map[string]float64) *Policy {
	b := make(map[string]float64, len(baselines))
	for k, v := range baselines {
		if v > 0 {
			b[normalizeCommodity(k)] = v
		}
	}

	sensitive := func(in Input) bool {
		_, ok := b[normalizeCommodity(in.Commodity)]
		return ok
	}
	increase := func(in Input) float64 {
		base := b[normalizeCommodity(in.Commodity)]
		return (in.GasRaw - base) / base * 100
	}

	return &Policy{
		Name:    "percentage-baseline",
		Version: 1,
		Unit:    models.UnitHours,
		Rules: []Rule{
			{
				Name:  "baseline: under 7%",
				When:  func(in Input) bool { return sensitive(in) && increase(in) < 7 },
				State: models.StateNoRisk,
			},
			{
				Name:  "baseline: under 15%",
				When:  func(in Input) bool { return sensitive(in) && increase(in) < 15 },
				State: models.StateRipe,
			},
			{
				Name:  "baseline: under 25%",
				When:  func(in Input) bool { return sensitive(in) && increase(in) < 25 },
				State: models.StateAlert,
			},
			{
				Name:  "baseline: 25% and over",
				When:  sensitive,
				State: models.StateLossRisk,
			},
			{
				Name:  "below 1900",
				When:  func(in Input) bool { return in.GasRaw < 1900 },
				State: models.StateNoRisk,
			},
			{
				Name:  "1900 to 2600",
				When:  func(in Input) bool { return between(in.GasRaw, 1900, 2600) },
				State: models.StateRipe,
			},
			{
				Name:  "above 2600 to 3100",
				When:  func(in Input) bool { return in.GasRaw > 2600 && in.GasRaw <= 3100 },
				State: models.StateAlert,
			},
		},
		Fallback: func(Input) models.State { return models.StateLossRisk },
		Validity: percentageValidityHours,
	}
}

func percentageValidityHours(state models.State, in Input) *int {
	switch state {
	case models.StateRipe:
		hours := 48
		if in.Temperature > 32 {
			hours -= 12
		}
		if in.Humidity > 78 {
			hours -= 6
		}
		if hours < 6 {
			hours = 6
		}
		return models.IntPtr(hours)
	case models.StateAlert:
		return models.IntPtr(12)
	case models.StateLossRisk:
		return models.IntPtr(0)
	default:
		return nil
	}
}
