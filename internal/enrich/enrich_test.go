package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ripeness-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEnricher_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PredictPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tomato", body["commodityType"])
		assert.Equal(t, 1100.0, body["gasRaw"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":"ripe","remaining":36.5}`))
	}))
	defer srv.Close()

	e := NewHTTPEnricher(srv.URL+"/", time.Second, nil)
	p, err := e.Predict(context.Background(), models.Reading{CommodityType: "tomato", GasRaw: 1100})

	require.NoError(t, err)
	assert.Equal(t, "ripe", p.State)
	require.NotNil(t, p.Remaining)
	assert.Equal(t, 36.5, *p.Remaining)
}

func TestHTTPEnricher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewHTTPEnricher(srv.URL, time.Second, nil)
	_, err := e.Predict(context.Background(), models.Reading{CommodityType: "tomato"})

	assert.ErrorContains(t, err, "status 400")
}

func TestApply_LeavesDerivedPair(t *testing.T) {
	r := &models.Reading{DerivedState: models.StateAlert, DerivedValidity: models.IntPtr(12)}
	remaining := 3.0

	Apply(r, &Prediction{State: "ripe", Remaining: &remaining})

	assert.Equal(t, models.StateAlert, r.DerivedState)
	assert.Equal(t, 12, *r.DerivedValidity)
	assert.Equal(t, "ripe", r.ModelState)
	assert.Equal(t, 3.0, *r.ModelRemaining)

	Apply(r, nil)
	assert.Equal(t, "ripe", r.ModelState)
}

func TestNop(t *testing.T) {
	p, err := Nop{}.Predict(context.Background(), models.Reading{})
	assert.NoError(t, err)
	assert.Nil(t, p)
}
