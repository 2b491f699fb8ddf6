package classifier

import (
	"testing"

	"ripeness-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawThreshold_AmbientBelow1500(t *testing.T) {
	for _, gas := range []float64{0, 800, 1499, 1499.9} {
		for _, temp := range []float64{-5, 30, 33.5, 50} {
			for _, hum := range []float64{0, 72, 80, 100} {
				res := RawThreshold.Classify(Input{GasRaw: gas, Temperature: temp, Humidity: hum})
				assert.Equal(t, models.StateAmbient, res.State)
				assert.Nil(t, res.Validity)
			}
		}
	}
}

func TestRawThreshold_RipeWindow(t *testing.T) {
	res := RawThreshold.Classify(Input{GasRaw: 2300, Temperature: 30, Humidity: 72})

	assert.Equal(t, models.StateRipe, res.State)
	require.NotNil(t, res.Validity)
	assert.Equal(t, 3, *res.Validity)
	assert.Equal(t, models.UnitDays, res.Unit)
	assert.Equal(t, "raw-threshold@1", res.Policy)
}

func TestRawThreshold_TemperatureStressReducesValidity(t *testing.T) {
	res := RawThreshold.Classify(Input{GasRaw: 2300, Temperature: 33, Humidity: 72})

	assert.Equal(t, models.StateRipe, res.State)
	require.NotNil(t, res.Validity)
	assert.Equal(t, 2, *res.Validity)
}

func TestRawThreshold_FavourableConditionsExtendValidity(t *testing.T) {
	res := RawThreshold.Classify(Input{GasRaw: 2300, Temperature: 29.5, Humidity: 72})

	require.NotNil(t, res.Validity)
	assert.Equal(t, 4, *res.Validity)
}

func TestRawThreshold_StressWinsOverFavourable(t *testing.T) {
	// humidity stress and cold temperature at once: only the reduction applies
	res := RawThreshold.Classify(Input{GasRaw: 2500, Temperature: 20, Humidity: 90})

	assert.Equal(t, models.StateRipe, res.State)
	require.NotNil(t, res.Validity)
	assert.Equal(t, 2, *res.Validity)
}

func TestRawThreshold_OverripeWindowAndFallback(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		state models.State
	}{
		{"overripe window", Input{GasRaw: 3200, Temperature: 33.5, Humidity: 80}, models.StateOverripe},
		{"fallback ambient", Input{GasRaw: 2000, Temperature: 20, Humidity: 50}, models.StateAmbient},
		{"fallback ripe lower edge", Input{GasRaw: 2260, Temperature: 20, Humidity: 50}, models.StateRipe},
		{"fallback ripe", Input{GasRaw: 3000, Temperature: 33.5, Humidity: 80}, models.StateRipe},
		{"fallback overripe edge", Input{GasRaw: 3140, Temperature: 10, Humidity: 10}, models.StateOverripe},
		{"fallback overripe high", Input{GasRaw: 4095, Temperature: 25, Humidity: 60}, models.StateOverripe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := RawThreshold.Classify(tt.in)
			assert.Equal(t, tt.state, res.State)
			if tt.state == models.StateOverripe {
				require.NotNil(t, res.Validity)
				assert.Equal(t, 0, *res.Validity)
			}
			if tt.state == models.StateAmbient {
				assert.Nil(t, res.Validity)
			}
		})
	}
}

func TestPercentageBaseline_Tomato(t *testing.T) {
	tests := []struct {
		gas      float64
		state    models.State
		validity *int
	}{
		{930, models.StateNoRisk, nil},
		{990, models.StateNoRisk, nil},                 // 6.45%
		{1000, models.StateRipe, models.IntPtr(48)},    // 7.5%
		{1100, models.StateAlert, models.IntPtr(12)},   // 18.3%
		{1170, models.StateLossRisk, models.IntPtr(0)}, // 25.8%
		{500, models.StateNoRisk, nil},
	}

	for _, tt := range tests {
		res := PercentageBaseline.Classify(Input{Commodity: "tomato", GasRaw: tt.gas, Temperature: 25, Humidity: 60})
		assert.Equal(t, tt.state, res.State, "gas %v", tt.gas)
		assert.Equal(t, tt.validity, res.Validity, "gas %v", tt.gas)
		assert.Equal(t, models.UnitHours, res.Unit)
	}
}

func TestPercentageBaseline_CommodityMatchIgnoresCase(t *testing.T) {
	res := PercentageBaseline.Classify(Input{Commodity: "  Tomate ", GasRaw: 1100})
	assert.Equal(t, models.StateAlert, res.State)
}

func TestPercentageBaseline_GenericThresholds(t *testing.T) {
	tests := []struct {
		gas   float64
		state models.State
	}{
		{1899, models.StateNoRisk},
		{1900, models.StateRipe},
		{2600, models.StateRipe},
		{2601, models.StateAlert},
		{3100, models.StateAlert},
		{3101, models.StateLossRisk},
	}

	for _, tt := range tests {
		res := PercentageBaseline.Classify(Input{Commodity: "banana", GasRaw: tt.gas, Temperature: 25, Humidity: 60})
		assert.Equal(t, tt.state, res.State, "gas %v", tt.gas)
	}
}

func TestPercentageBaseline_RipeValidityReductionsAreCumulative(t *testing.T) {
	tests := []struct {
		temp, hum float64
		hours     int
	}{
		{25, 60, 48},
		{33, 60, 36},
		{25, 80, 42},
		{33, 80, 30},
	}

	for _, tt := range tests {
		res := PercentageBaseline.Classify(Input{Commodity: "banana", GasRaw: 2000, Temperature: tt.temp, Humidity: tt.hum})
		require.NotNil(t, res.Validity)
		assert.Equal(t, tt.hours, *res.Validity)
	}
}

func TestPercentageValidity_WorstConditionsFloor(t *testing.T) {
	// both reductions together leave 30 hours, above the 6 hour minimum
	for _, in := range []Input{
		{Temperature: 40, Humidity: 90},
		{Temperature: 60, Humidity: 100},
	} {
		v := percentageValidityHours(models.StateRipe, in)
		require.NotNil(t, v)
		assert.Equal(t, 30, *v)
	}
}

func TestSelector_Static(t *testing.T) {
	s := NewStaticSelector(PercentageBaseline)

	assert.Same(t, PercentageBaseline, s.Default())
	assert.Same(t, PercentageBaseline, s.For("banana"))
	assert.Empty(t, s.Overrides())

	r := &models.Reading{CommodityType: "Tomato", GasRaw: 1000, Temperature: 25, Humidity: 60}
	res := s.Apply(r)
	assert.Equal(t, models.StateRipe, res.State)
	assert.Equal(t, "percentage-baseline@1", r.Policy)
}

func TestPolicy_ApplySetsDerivedPairTogether(t *testing.T) {
	r := &models.Reading{CommodityType: "banana", GasRaw: 2300, Temperature: 30, Humidity: 72}

	res := RawThreshold.Apply(r)

	assert.Equal(t, res.State, r.DerivedState)
	assert.Equal(t, res.Validity, r.DerivedValidity)
	assert.Equal(t, models.UnitDays, r.ValidityUnit)
	assert.Equal(t, "raw-threshold@1", r.Policy)
}

func TestPolicy_ValidateRejectsMissingFallback(t *testing.T) {
	p := &Policy{
		Name:     "broken",
		Version:  1,
		Unit:     models.UnitDays,
		Rules:    []Rule{{Name: "low", When: func(in Input) bool { return in.GasRaw < 10 }, State: models.StateAmbient}},
		Validity: rawValidityDays,
	}

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing fallback")
}

func TestBuiltinPoliciesAreValid(t *testing.T) {
	for _, p := range Policies() {
		assert.NoError(t, p.Validate(), p.Name)
	}
}

func TestLookup(t *testing.T) {
	p, err := Lookup("Raw-Threshold")
	require.NoError(t, err)
	assert.Same(t, RawThreshold, p)

	p, err = Lookup("percentage-baseline@1")
	require.NoError(t, err)
	assert.Same(t, PercentageBaseline, p)

	_, err = Lookup("percentage-baseline@2")
	assert.Error(t, err)

	_, err = Lookup("neural")
	assert.Error(t, err)
}

func TestSelector_PerCommodityOverride(t *testing.T) {
	s, err := NewSelector("raw-threshold", map[string]string{"Tomato": "percentage-baseline"})
	require.NoError(t, err)

	assert.Same(t, RawThreshold, s.For("banana"))
	assert.Same(t, PercentageBaseline, s.For("tomato"))
	assert.Equal(t, map[string]string{"tomato": "percentage-baseline@1"}, s.Overrides())

	r := &models.Reading{CommodityType: "tomato", GasRaw: 1100}
	res := s.Apply(r)
	assert.Equal(t, models.StateAlert, res.State)
	assert.Equal(t, models.StateAlert, r.DerivedState)
}

func TestSelector_UnknownPolicyIsStartupError(t *testing.T) {
	_, err := NewSelector("raw-threshold", map[string]string{"tomato": "made-up"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "override for tomato")
}
