package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/instantchat/backend/internal/domain"
)

const notificationCollection = "notifications"

// mongoNotification is the stored document. The raw payload is kept as JSON
// text so it reads back exactly as received.
type mongoNotification struct {
	ID         string    `bson:"_id"`
	EventType  string    `bson:"event_type"`
	SenderID   string    `bson:"sender_id"`
	Username   string    `bson:"username"`
	Content    string    `bson:"content"`
	Timestamp  string    `bson:"timestamp"`
	AccountID  string    `bson:"account_id"`
	Status     string    `bson:"status"`
	IsRead     bool      `bson:"is_read"`
	Payload    string    `bson:"payload,omitempty"`
	ReceivedAt time.Time `bson:"received_at"`
}

// MongoRepository implements domain.NotificationRepository on MongoDB
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo dials MongoDB and verifies the primary is reachable
func ConnectMongo(ctx context.Context, uri, database string, timeout time.Duration) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return NewMongoRepository(client, database), nil
}

// NewMongoRepository wraps an already connected client.
func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{
		client: client,
		coll:   client.Database(database).Collection(notificationCollection),
	}
}

// EnsureIndexes creates the indexes list and unread queries rely on
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "received_at", Value: -1}}},
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "is_read", Value: 1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "status", Value: 1}}},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoRepository) UpsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	payload, err := encodePayload(n.Payload)
	if err != nil {
		return false, err
	}
	doc := bson.M{
		"event_type":  string(n.EventType),
		"sender_id":   n.SenderID,
		"username":    n.UserInfo.Username,
		"content":     n.Content.Text,
		"timestamp":   n.Timestamp,
		"account_id":  n.AccountID,
		"status":      string(n.Status),
		"is_read":     n.IsRead,
		"received_at": n.ReceivedAt,
	}
	if payload != nil {
		doc["payload"] = string(payload)
	}

	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": n.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		// Two concurrent upserts of one id race on the unique _id index;
		// the loser is a replay.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return result.UpsertedCount == 1, nil
}

func (r *MongoRepository) ListNotifications(ctx context.Context, filter domain.NotificationFilter) ([]*domain.Notification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(filter.Offset)).
		SetSort(bson.D{{Key: "received_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := r.coll.Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	notifications := []*domain.Notification{}
	for cursor.Next(ctx) {
		var doc mongoNotification
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		notifications = append(notifications, doc.toDomain())
	}
	return notifications, cursor.Err()
}

func (r *MongoRepository) CountUnread(ctx context.Context, accountID string) (int64, error) {
	filter := bson.M{"is_read": false}
	if accountID != "" {
		filter["account_id"] = accountID
	}
	return r.coll.CountDocuments(ctx, filter)
}

func (r *MongoRepository) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, markReadPipeline())
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *MongoRepository) MarkAllNotificationsRead(ctx context.Context, accountID string) (int64, error) {
	filter := bson.M{"is_read": false}
	if accountID != "" {
		filter["account_id"] = accountID
	}
	result, err := r.coll.UpdateMany(ctx, filter, markReadPipeline())
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// markReadPipeline sets is_read and advances "new" to "read" in one update.
func markReadPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"is_read": true,
			"status": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", string(domain.StatusNew)}},
				string(domain.StatusRead),
				"$status",
			}},
		}}},
	}
}

func (r *MongoRepository) NotificationStats(ctx context.Context) (*domain.NotificationStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"event_type": "$event_type",
				"status":     "$status",
				"is_read":    "$is_read",
			},
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	stats := newStats()
	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				EventType string `bson:"event_type"`
				Status    string `bson:"status"`
				IsRead    bool   `bson:"is_read"`
			} `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		stats.Total += row.Count
		if !row.ID.IsRead {
			stats.Unread += row.Count
		}
		stats.ByEventType[domain.EventType(row.ID.EventType)] += row.Count
		stats.ByStatus[domain.Status(row.ID.Status)] += row.Count
	}
	return stats, cursor.Err()
}

func (r *MongoRepository) DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"received_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func mongoFilter(f domain.NotificationFilter) bson.M {
	filter := bson.M{}
	if f.EventType != "" && f.EventType != domain.FilterAll {
		filter["event_type"] = domain.CanonicalTopic(f.EventType)
	}
	if f.Status != "" && f.Status != domain.FilterAll {
		filter["status"] = f.Status
	}
	if f.AccountID != "" {
		filter["account_id"] = f.AccountID
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"username": re},
			bson.M{"sender_id": re},
			bson.M{"content": re},
			bson.M{"event_type": re},
		}
	}
	return filter
}

func (d *mongoNotification) toDomain() *domain.Notification {
	n := &domain.Notification{
		ID:         d.ID,
		EventType:  domain.EventType(d.EventType),
		SenderID:   d.SenderID,
		UserInfo:   domain.UserInfo{Username: d.Username},
		Content:    domain.Content{Text: d.Content},
		Timestamp:  d.Timestamp,
		AccountID:  d.AccountID,
		Status:     domain.Status(d.Status),
		IsRead:     d.IsRead,
		ReceivedAt: d.ReceivedAt,
	}
	if d.Payload != "" {
		var v any
		if err := json.Unmarshal([]byte(d.Payload), &v); err == nil {
			n.Payload = v
		}
	}
	return n
}
