package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoUserRepository struct {
	coll *mongo.Collection
}

// NewMongoUserRepository stores users in the "users" collection of db.
func NewMongoUserRepository(db *mongo.Database) UserRepository {
	return &mongoUserRepository{coll: db.Collection(usersCollection)}
}

func (r *mongoUserRepository) Create(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if _, err := r.coll.InsertOne(ctx, toUserDoc(u)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return appErr.Wrap(err, appErr.CodeAlreadyExists, "user already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "create user failed")
	}
	return nil
}

func (r *mongoUserRepository) findOne(ctx context.Context, filter bson.M, dest *models.User) error {
	var d userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErr.New(appErr.CodeNotFound, "user not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get user failed")
	}
	d.toModel(dest)
	return nil
}

func (r *mongoUserRepository) GetByID(ctx context.Context, id any, dest *models.User) error {
	return r.findOne(ctx, bson.M{"_id": idString(id)}, dest)
}

func (r *mongoUserRepository) GetByUsername(ctx context.Context, username string, dest *models.User) error {
	return r.findOne(ctx, bson.M{"username": username}, dest)
}

func (r *mongoUserRepository) Update(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": u.ID.String()}, toUserDoc(u))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return appErr.Wrap(err, appErr.CodeAlreadyExists, "user already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "update user failed")
	}
	if res.MatchedCount == 0 {
		return appErr.New(appErr.CodeNotFound, "user not found")
	}
	return nil
}

func (r *mongoUserRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID.String()}, bson.M{"$set": bson.M{
		"password_hash": passwordHash,
		"updated_at":    time.Now().UTC(),
	}})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "update password failed")
	}
	if res.MatchedCount == 0 {
		return appErr.New(appErr.CodeNotFound, "user not found")
	}
	return nil
}

func (r *mongoUserRepository) Delete(ctx context.Context, id any) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": idString(id)})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete user failed")
	}
	if res.DeletedCount == 0 {
		return appErr.New(appErr.CodeNotFound, "user not found")
	}
	return nil
}
