package consumer

import (
	"context"
	"testing"

	"ripeness-monitor/internal/models"
	"ripeness-monitor/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	got []parser.Payload
}

func (f *fakeIngester) Ingest(_ context.Context, p parser.Payload) (*models.Reading, error) {
	f.got = append(f.got, p)
	if p["commodityType"] == "" {
		return nil, &models.ValidationError{Field: "commodityType", Reason: "must be a non-empty string"}
	}
	return &models.Reading{ID: "r1", DerivedState: models.StateRipe}, nil
}

func TestHandleMessage_SingleObject(t *testing.T) {
	ing := &fakeIngester{}
	c := NewMQTTConsumer(Config{Topic: "sensors"}, ing, nil)

	err := c.HandleMessage(context.Background(), "sensors", []byte(`{"commodityType":"tomato","gasRaw":1100}`))

	require.NoError(t, err)
	require.Len(t, ing.got, 1)
	assert.Equal(t, "tomato", ing.got[0]["commodityType"])
	// numbers keep their literal form for coercion
	assert.Equal(t, "1100", ing.got[0]["gasRaw"].(interface{ String() string }).String())
}

func TestHandleMessage_BatchContinuesPastRejects(t *testing.T) {
	ing := &fakeIngester{}
	c := NewMQTTConsumer(Config{Topic: "sensors"}, ing, nil)

	err := c.HandleMessage(context.Background(), "sensors",
		[]byte(` [{"commodityType":""},{"commodityType":"banana"}] `))

	assert.EqualError(t, err, "1 of 2 payloads rejected")
	assert.Len(t, ing.got, 2)
}

func TestHandleMessage_Malformed(t *testing.T) {
	ing := &fakeIngester{}
	c := NewMQTTConsumer(Config{Topic: "sensors"}, ing, nil)

	err := c.HandleMessage(context.Background(), "sensors", []byte(`not json`))

	assert.Error(t, err)
	assert.Empty(t, ing.got)
}

func TestStart_RequiresTopic(t *testing.T) {
	c := NewMQTTConsumer(Config{}, &fakeIngester{}, nil)
	assert.EqualError(t, c.Start(context.Background()), "mqtt topic not configured")
}

func TestStop_WithoutConnection(t *testing.T) {
	c := NewMQTTConsumer(Config{Topic: "sensors"}, &fakeIngester{}, nil)
	assert.NoError(t, c.Stop())
}
