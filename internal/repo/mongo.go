package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BSON dates stop at milliseconds, so ordering uses ts_micros.
type eventDocument struct {
	Room      string    `bson:"room"`
	Name      string    `bson:"name"`
	Data      string    `bson:"data"`
	Micros    int64     `bson:"ts_micros"`
	CreatedAt time.Time `bson:"created_at"`
}

type MongoEventLog struct {
	events *mongo.Collection
}

func NewMongoEventLog(client *mongo.Client, dbName string) *MongoEventLog {
	return &MongoEventLog{
		events: client.Database(dbName).Collection("broadcast_events"),
	}
}

// EnsureIndexes creates the room/time index used by Since and Trim
func (r *MongoEventLog) EnsureIndexes(ctx context.Context) error {
	_, err := r.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room", Value: 1}, {Key: "ts_micros", Value: 1}}},
		{Keys: bson.D{{Key: "ts_micros", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}
	return nil
}

// Append inserts ev with the timestamp the caller assigned. The mongo log is
// only used by a single instance, so no cross-instance ordering is needed.
func (r *MongoEventLog) Append(ctx context.Context, ev model.BroadcastEvent) (model.BroadcastEvent, error) {
	doc := eventDocument{
		Room:      ev.Room,
		Name:      ev.Name,
		Data:      string(ev.Data),
		Micros:    ev.Timestamp.UnixMicro(),
		CreatedAt: ev.Timestamp,
	}
	if _, err := r.events.InsertOne(ctx, doc); err != nil {
		return model.BroadcastEvent{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return ev, nil
}

func (r *MongoEventLog) Since(ctx context.Context, room string, since time.Time) ([]model.BroadcastEvent, error) {
	filter := bson.M{
		"room":      room,
		"ts_micros": bson.M{"$gt": since.UnixMicro()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "ts_micros", Value: 1}})

	cursor, err := r.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	events := make([]model.BroadcastEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, model.BroadcastEvent{
			Room:      doc.Room,
			Name:      doc.Name,
			Data:      []byte(doc.Data),
			Timestamp: time.UnixMicro(doc.Micros).UTC(),
		})
	}
	return events, nil
}

func (r *MongoEventLog) Trim(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.events.DeleteMany(ctx, bson.M{"ts_micros": bson.M{"$lt": before.UnixMicro()}})
	if err != nil {
		return 0, fmt.Errorf("failed to trim events: %w", err)
	}
	return res.DeletedCount, nil
}
