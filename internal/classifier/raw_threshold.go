package classifier

import "ripeness-monitor/internal/models"

// RawThreshold classifies on absolute gas counts, commodity-agnostic.
// Validity is expressed in days.
var RawThreshold = &Policy{
	Name:    "raw-threshold",
	Version: 1,
	Unit:    models.UnitDays,
	Rules: []Rule{
		{
			Name:  "ambient air",
			When:  func(in Input) bool { return in.GasRaw < 1500 },
			State: models.StateAmbient,
		},
		{
			Name: "ripe window",
			When: func(in Input) bool {
				return between(in.GasRaw, 2260, 2440) &&
					between(in.Temperature, 29, 31) &&
					between(in.Humidity, 70, 75)
			},
			State: models.StateRipe,
		},
		{
			Name: "overripe window",
			When: func(in Input) bool {
				return between(in.GasRaw, 3140, 3640) &&
					between(in.Temperature, 33, 34) &&
					between(in.Humidity, 78, 82)
			},
			State: models.StateOverripe,
		},
	},
	// gas counts alone decide readings outside the calibrated windows
	Fallback: func(in Input) models.State {
		switch {
		case in.GasRaw < 2260:
			return models.StateAmbient
		case in.GasRaw < 3140:
			return models.StateRipe
		default:
			return models.StateOverripe
		}
	},
	Validity: rawValidityDays,
}

func rawValidityDays(state models.State, in Input) *int {
	switch state {
	case models.StateRipe:
		days := 3
		if in.Temperature > 32 || in.Humidity > 78 {
			days--
		} else if in.Temperature < 30 || in.Humidity < 70 {
			days++
		}
		if days < 0 {
			days = 0
		}
		return models.IntPtr(days)
	case models.StateOverripe:
		return models.IntPtr(0)
	default:
		return nil
	}
}
