package db

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/models"
	"ripeness-monitor/internal/parser"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps readings as documents in one collection
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	loc    *time.Location
}

// readingDoc is the stored document shape
type readingDoc struct {
	ID              primitive.ObjectID `bson:"_id"`
	CommodityType   string             `bson:"commodityType"`
	Batch           string             `bson:"batch,omitempty"`
	Temperature     float64            `bson:"temperature"`
	Humidity        float64            `bson:"humidity"`
	GasRaw          float64            `bson:"gasRaw"`
	GasVoltage      float64            `bson:"gasVoltage"`
	ObservedState   string             `bson:"observedState,omitempty"`
	RecordedAt      time.Time          `bson:"recordedAt"`
	DerivedState    string             `bson:"derivedState"`
	DerivedValidity *int               `bson:"derivedValidity"`
	ValidityUnit    string             `bson:"validityUnit,omitempty"`
	Policy          string             `bson:"policy,omitempty"`
	ModelState      string             `bson:"modelState,omitempty"`
	ModelRemaining  *float64           `bson:"modelRemaining,omitempty"`
}

// NewMongo connects to uri and prepares the readings collection
func NewMongo(ctx context.Context, uri, database, collection string, loc *time.Location) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: models.FieldCommodityType, Value: 1}, {Key: models.FieldRecordedAt, Value: 1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	s := NewMongoWithCollection(coll, loc)
	s.client = client
	return s, nil
}

// NewMongoWithCollection wraps an existing collection
func NewMongoWithCollection(coll *mongo.Collection, loc *time.Location) *MongoStore {
	if loc == nil {
		loc = clock.Civil
	}
	return &MongoStore{coll: coll, loc: loc}
}

func (s *MongoStore) Insert(ctx context.Context, r *models.Reading) (string, error) {
	doc := readingDoc{
		ID:              primitive.NewObjectID(),
		CommodityType:   r.CommodityType,
		Batch:           r.Batch,
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		GasRaw:          r.GasRaw,
		GasVoltage:      r.GasVoltage,
		ObservedState:   r.ObservedState,
		RecordedAt:      r.RecordedAt.UTC(),
		DerivedState:    string(r.DerivedState),
		DerivedValidity: r.DerivedValidity,
		ValidityUnit:    string(r.ValidityUnit),
		Policy:          r.Policy,
		ModelState:      r.ModelState,
		ModelRemaining:  r.ModelRemaining,
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert reading: %w", err)
	}

	r.ID = doc.ID.Hex()
	return r.ID, nil
}

func (s *MongoStore) Find(ctx context.Context, q models.ReadingQuery) ([]models.Reading, error) {
	filter := bson.M{}
	if !matchesAll(q.CommodityType) {
		filter[models.FieldCommodityType] = q.CommodityType
	}

	dir := -1
	if q.Ascending {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: models.FieldRecordedAt, Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find readings: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.Reading
	for cursor.Next(ctx) {
		var m bson.M
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode reading: %w", err)
		}
		results = append(results, s.readingFromDoc(m))
	}
	return results, cursor.Err()
}

// readingFromDoc decodes loosely: numeric fields that are missing or not
// numeric become NaN instead of failing the whole query.
func (s *MongoStore) readingFromDoc(m bson.M) models.Reading {
	r := models.Reading{
		CommodityType: stringField(m, models.FieldCommodityType),
		Batch:         stringField(m, models.FieldBatch),
		Temperature:   floatField(m, models.FieldTemperature),
		Humidity:      floatField(m, models.FieldHumidity),
		GasRaw:        floatField(m, models.FieldGasRaw),
		GasVoltage:    floatField(m, models.FieldGasVoltage),
		ObservedState: stringField(m, models.FieldObservedState),
		DerivedState:  models.State(stringField(m, models.FieldDerivedState)),
		ValidityUnit:  models.ValidityUnit(stringField(m, "validityUnit")),
		Policy:        stringField(m, "policy"),
		ModelState:    stringField(m, "modelState"),
	}

	switch id := m["_id"].(type) {
	case primitive.ObjectID:
		r.ID = id.Hex()
	case nil:
	default:
		r.ID = fmt.Sprint(id)
	}

	switch ts := m[models.FieldRecordedAt].(type) {
	case primitive.DateTime:
		r.RecordedAt = ts.Time().In(s.loc)
	case time.Time:
		r.RecordedAt = ts.In(s.loc)
	case string:
		if t, err := parser.ParseTimestamp(ts); err == nil {
			r.RecordedAt = t.In(s.loc)
		}
	}

	if v, ok := parser.CoerceFloat(m["derivedValidity"]); ok {
		r.DerivedValidity = models.IntPtr(int(v))
	}
	if v, ok := parser.CoerceFloat(m["modelRemaining"]); ok {
		r.ModelRemaining = &v
	}
	return r
}

func (s *MongoStore) DistinctValues(ctx context.Context, field string) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, field, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", field, err)
	}

	values := []string{}
	for _, v := range raw {
		if str, ok := v.(string); ok && str != "" {
			values = append(values, str)
		}
	}
	sort.Strings(values)
	return values, nil
}

func (s *MongoStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{ByState: map[string]int64{}}

	total, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("count readings: %w", err)
	}
	stats.TotalReadings = total

	commodities, err := s.DistinctValues(ctx, models.FieldCommodityType)
	if err != nil {
		return nil, err
	}
	stats.Commodities = len(commodities)

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + models.FieldDerivedState},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			State string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		stats.ByState[row.State] = row.Count
	}
	return stats, cursor.Err()
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func stringField(m bson.M, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m bson.M, key string) float64 {
	if v, ok := parser.CoerceFloat(m[key]); ok {
		return v
	}
	return math.NaN()
}
