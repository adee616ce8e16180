package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-opsdesk/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps records in approval_records and each entity type in the
// collection named by its policy slug. Transactions need a replica set.
type MongoStore struct {
	Client   *mongo.Client
	DB       *mongo.Database
	Records  *mongo.Collection
	Registry *Registry
}

func NewMongoStore(mongodb *database.MongodbDB, registry *Registry) Store {
	return &MongoStore{
		Client:   mongodb.Client,
		DB:       mongodb.DB,
		Records:  mongodb.DB.Collection("approval_records"),
		Registry: registry,
	}
}

func (s *MongoStore) entities(entityType EntityType) (*mongo.Collection, error) {
	p, ok := s.Registry.Get(entityType)
	if !ok {
		return nil, fmt.Errorf("no policy for entity type %s", entityType)
	}
	return s.DB.Collection(p.Slug), nil
}

func (s *MongoStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.Client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &mongoTx{store: s})
	})
	return err
}

func (s *MongoStore) CreateEntity(ctx context.Context, entity Entity, records []ApprovalRecord) error {
	coll, err := s.entities(entity.Type)
	if err != nil {
		return err
	}

	session, err := s.Client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := coll.InsertOne(sc, entity); err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		docs := make([]interface{}, len(records))
		for i, r := range records {
			docs[i] = r
		}
		_, err := s.Records.InsertMany(sc, docs)
		return nil, err
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (s *MongoStore) GetEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	coll, err := s.entities(entityType)
	if err != nil {
		return nil, err
	}

	var entity Entity
	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&entity)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *MongoStore) ListOpenEntities(ctx context.Context, entityType EntityType, terminal []string) ([]Entity, error) {
	coll, err := s.entities(entityType)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"status": bson.M{"$nin": terminal}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []Entity
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	return findRecords(ctx, s.Records, bson.M{"entity_type": entityType, "entity_id": entityID})
}

func (s *MongoStore) ListPendingForUser(ctx context.Context, userID string) ([]ApprovalRecord, error) {
	return findRecords(ctx, s.Records, bson.M{"user_id": userID, "status": StatusPending})
}

func (s *MongoStore) InsertRecord(ctx context.Context, rec ApprovalRecord) error {
	_, err := s.Records.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// EnsureSchema creates the indexes the store relies on. The partial unique
// index keeps one pending record per (entity, level, user).
func (s *MongoStore) EnsureSchema(ctx context.Context) error {
	_, err := s.Records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
		{
			Keys: bson.D{
				{Key: "entity_type", Value: 1},
				{Key: "entity_id", Value: 1},
				{Key: "level", Value: 1},
				{Key: "user_id", Value: 1},
			},
			Options: options.Index().
				SetName("one_pending_per_approver").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": StatusPending}),
		},
	})
	if err != nil {
		return fmt.Errorf("approval_records indexes: %w", err)
	}

	for _, p := range s.Registry.All() {
		_, err := s.DB.Collection(p.Slug).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("%s indexes: %w", p.Slug, err)
		}
	}
	return nil
}

func findRecords(ctx context.Context, coll *mongo.Collection, filter bson.M) ([]ApprovalRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []ApprovalRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// mongoTx runs every call with the session context handed to fn.
type mongoTx struct {
	store *MongoStore
}

// LockEntity bumps the version field, which write-locks the document for the
// rest of the transaction. A concurrent transaction touching the same entity
// fails with a transient write conflict and is retried by WithTransaction.
func (t *mongoTx) LockEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	coll, err := t.store.entities(entityType)
	if err != nil {
		return nil, err
	}

	var entity Entity
	err = coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&entity)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (t *mongoTx) GetRecord(ctx context.Context, id string) (*ApprovalRecord, error) {
	var rec ApprovalRecord
	err := t.store.Records.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *mongoTx) ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	return findRecords(ctx, t.store.Records, bson.M{"entity_type": entityType, "entity_id": entityID})
}

func (t *mongoTx) ResolveRecord(ctx context.Context, id string, status Status, at time.Time, comments *string) (bool, error) {
	set := bson.M{
		"status":      status,
		"action_date": at,
		"updated_at":  at,
	}
	if comments != nil {
		set["comments"] = *comments
	}

	res, err := t.store.Records.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusPending},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (t *mongoTx) SetEntityStatus(ctx context.Context, entityType EntityType, id string, status string, at time.Time) error {
	coll, err := t.store.entities(entityType)
	if err != nil {
		return err
	}

	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrStoreNotFound
	}
	return nil
}
