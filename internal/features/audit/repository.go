package audit

import (
	"context"

	"go-opsdesk/internal/database"

	"go.mongodb.org/mongo-driver/mongo"
)

// MongoSink appends audit events to the approval_audit_logs collection.
type MongoSink struct {
	Collection *mongo.Collection
}

func NewMongoSink(mongodb *database.MongodbDB) Sink {
	return &MongoSink{
		Collection: mongodb.DB.Collection("approval_audit_logs"),
	}
}

func (s *MongoSink) Record(ctx context.Context, e Event) error {
	_, err := s.Collection.InsertOne(ctx, e)
	return err
}
