package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

const colUsageEvents = "usage_events"

// MongoStore keeps the event log in a MongoDB collection.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore creates a MongoStore on db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(colUsageEvents)}
}

type eventDocument struct {
	ID             string         `bson:"_id"`
	UserID         string         `bson:"user_id"`
	Model          string         `bson:"model"`
	InputTokens    int64          `bson:"input_tokens"`
	OutputTokens   int64          `bson:"output_tokens"`
	ResponseCode   int            `bson:"response_code"`
	Timestamp      time.Time      `bson:"timestamp"`
	AdditionalInfo map[string]any `bson:"additional_info,omitempty"`
}

func toDocument(e *UsageEvent) *eventDocument {
	return &eventDocument{
		ID:             e.ID.String(),
		UserID:         e.UserID,
		Model:          e.Model,
		InputTokens:    e.InputTokens,
		OutputTokens:   e.OutputTokens,
		ResponseCode:   e.ResponseCode,
		Timestamp:      e.Timestamp,
		AdditionalInfo: e.AdditionalInfo,
	}
}

func fromDocument(d *eventDocument) (UsageEvent, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return UsageEvent{}, fmt.Errorf("decoding event id %q: %w", d.ID, err)
	}
	return UsageEvent{
		ID:             id,
		UserID:         d.UserID,
		Model:          d.Model,
		InputTokens:    d.InputTokens,
		OutputTokens:   d.OutputTokens,
		ResponseCode:   d.ResponseCode,
		Timestamp:      d.Timestamp.UTC(),
		AdditionalInfo: d.AdditionalInfo,
	}, nil
}

// Migrate creates the collection indexes.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "model", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating usage_events indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Append(ctx context.Context, e *UsageEvent) error {
	if _, err := s.col.InsertOne(ctx, toDocument(e)); err != nil {
		return apperr.Unavailable("inserting usage event", err)
	}
	return nil
}

func (s *MongoStore) Query(ctx context.Context, userID string, params QueryParams) ([]UsageEvent, error) {
	filter := bson.M{"user_id": userID}
	if params.Model != "" {
		filter["model"] = params.Model
	}

	dir := -1
	if params.Order == OrderAsc {
		dir = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}}).
		SetSkip(int64(params.Skip)).
		SetLimit(int64(params.Limit))

	return s.find(ctx, "querying usage events", filter, opts)
}

func (s *MongoStore) DistinctModels(ctx context.Context, userID string) ([]string, error) {
	res := s.col.Distinct(ctx, "model", bson.M{"user_id": userID})
	if err := res.Err(); err != nil {
		return nil, apperr.Unavailable("listing models", err)
	}

	var models []string
	if err := res.Decode(&models); err != nil {
		return nil, fmt.Errorf("decoding distinct models: %w", err)
	}
	if models == nil {
		models = []string{}
	}
	sort.Strings(models)
	return models, nil
}

func (s *MongoStore) Range(ctx context.Context, userID string, from, to time.Time, model string) ([]UsageEvent, error) {
	filter := bson.M{
		"user_id":   userID,
		"timestamp": bson.M{"$gte": from, "$lt": to},
	}
	if model != "" {
		filter["model"] = model
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, "querying usage range", filter, opts)
}

func (s *MongoStore) ModelTotals(ctx context.Context, userID string) ([]ModelTotal, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"user_id": userID}},
		bson.M{"$group": bson.M{
			"_id":           "$model",
			"input_tokens":  bson.M{"$sum": "$input_tokens"},
			"output_tokens": bson.M{"$sum": "$output_tokens"},
			"calls":         bson.M{"$sum": 1},
		}},
		bson.M{"$sort": bson.M{"_id": 1}},
	}

	cursor, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Unavailable("summing usage events", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Model        string `bson:"_id"`
		InputTokens  int64  `bson:"input_tokens"`
		OutputTokens int64  `bson:"output_tokens"`
		Calls        int64  `bson:"calls"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, apperr.Unavailable("decoding usage totals", err)
	}

	totals := make([]ModelTotal, len(results))
	for i, r := range results {
		totals[i] = ModelTotal{
			Model:        r.Model,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			Calls:        r.Calls,
		}
	}
	return totals, nil
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]UsageEvent, error) {
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	defer cursor.Close(ctx)

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	events := make([]UsageEvent, 0, len(docs))
	for i := range docs {
		e, err := fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
