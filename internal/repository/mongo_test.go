package repository

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/instantchat/backend/internal/domain"
)

func TestMongoRepository_Upsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	n := &domain.Notification{
		ID:         "mid.1",
		EventType:  domain.EventMessage,
		SenderID:   "u1",
		Content:    domain.Content{Text: "hi"},
		Status:     domain.StatusNew,
		Payload:    map[string]any{"text": "hi"},
		ReceivedAt: time.Now().UTC(),
	}

	tests := []struct {
		name     string
		response bson.D
		want     bool
	}{
		{
			name: "inserted",
			response: mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "nModified", Value: 0},
				bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "mid.1"}}}},
			),
			want: true,
		},
		{
			name: "already stored",
			response: mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "nModified", Value: 0},
			),
			want: false,
		},
		{
			name: "lost insert race",
			response: mtest.CreateWriteErrorsResponse(mtest.WriteError{
				Index:   0,
				Code:    11000,
				Message: "E11000 duplicate key error collection: instantchat.notifications index: _id_",
			}),
			want: false,
		},
	}

	for _, tt := range tests {
		mt.Run(tt.name, func(mt *mtest.T) {
			mt.AddMockResponses(tt.response)
			repo := NewMongoRepository(mt.Client, "instantchat")

			created, err := repo.UpsertNotification(context.Background(), n)
			if err != nil {
				t.Fatalf("UpsertNotification() error = %v", err)
			}
			if created != tt.want {
				t.Errorf("created = %v, want %v", created, tt.want)
			}
		})
	}

	mt.Run("other write errors surface", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 2, Message: "bad value"}))
		repo := NewMongoRepository(mt.Client, "instantchat")

		if _, err := repo.UpsertNotification(context.Background(), n); err == nil {
			t.Error("UpsertNotification() error = nil, want write error")
		}
	})
}
