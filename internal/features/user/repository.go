package user

import (
	"context"
	"errors"

	"go-opsdesk/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserRepository is the read-only directory consulted by the approval authorizer.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByIDs(ctx context.Context, ids []string) ([]User, error)
}

type UserRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewUserRepository(mongodb *database.MongodbDB) UserRepository {
	return &UserRepositoryImpl{
		Collection: mongodb.DB.Collection("users"),
	}
}

// idCandidates accepts both ObjectID and plain string primary keys so
// directories synced from other systems still resolve.
func idCandidates(id string) []interface{} {
	candidates := []interface{}{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, oid)
	}
	return candidates
}

func (r *UserRepositoryImpl) FindByID(ctx context.Context, id string) (*User, error) {
	var raw bson.M
	err := r.Collection.FindOne(ctx, bson.M{"_id": bson.M{"$in": idCandidates(id)}}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u := decodeUser(raw)
	return &u, nil
}

func (r *UserRepositoryImpl) FindByIDs(ctx context.Context, ids []string) ([]User, error) {
	var candidates []interface{}
	for _, id := range ids {
		candidates = append(candidates, idCandidates(id)...)
	}
	if len(candidates) == 0 {
		return []User{}, nil
	}

	cursor, err := r.Collection.Find(ctx, bson.M{"_id": bson.M{"$in": candidates}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err = cursor.All(ctx, &raws); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(raws))
	for _, raw := range raws {
		users = append(users, decodeUser(raw))
	}
	return users, nil
}

func decodeUser(raw bson.M) User {
	u := User{}
	switch id := raw["_id"].(type) {
	case primitive.ObjectID:
		u.ID = id.Hex()
	case string:
		u.ID = id
	}
	u.Username, _ = raw["username"].(string)
	u.Email, _ = raw["email"].(string)
	u.Status, _ = raw["status"].(string)
	if perms, ok := raw["permissions"].(primitive.A); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				u.Permissions = append(u.Permissions, s)
			}
		}
	}
	return u
}
