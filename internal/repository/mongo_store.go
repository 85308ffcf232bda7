package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rashiddalii/moodlog-server/internal/model"
)

// userDoc is the shape of a document in the `users` collection.
type userDoc struct {
	ID            bson.ObjectID `bson:"_id,omitempty"`
	Username      string        `bson:"username"`
	PasswordHash  string        `bson:"password,omitempty"`
	DisplayName   string        `bson:"displayName"`
	CreatedAt     time.Time     `bson:"createdAt"`
	LastLogin     *time.Time    `bson:"lastLogin,omitempty"`
	RefreshTokens []refreshDoc  `bson:"refreshTokens"`
}

type refreshDoc struct {
	TokenHash string    `bson:"tokenHash"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MongoStore keeps each user, refresh token set included, in one document so
// that every token mutation is a single-document atomic update.
type MongoStore struct {
	users       *mongo.Collection
	maxSessions int
}

func NewMongoStore(db *mongo.Database, maxSessions int) *MongoStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &MongoStore{users: db.Collection("users"), maxSessions: maxSessions}
}

// EnsureIndexes creates the unique username index and the multikey index
// used by refresh rotation lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "refreshTokens.tokenHash", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, u *model.User) error {
	doc := userDoc{
		Username:      u.Username,
		PasswordHash:  u.PasswordHash,
		DisplayName:   u.DisplayName,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
		RefreshTokens: []refreshDoc{},
	}
	res, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("insert user: unexpected id type %T", res.InsertedID)
	}
	u.ID = oid.Hex()
	return nil
}

func (s *MongoStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&doc)
	if err != nil {
		return nil, mongoNotFound(err, "find user by username")
	}
	return doc.toModel(), nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc userDoc
	err = s.users.FindOne(ctx, bson.D{{Key: "_id", Value: oid}},
		options.FindOne().SetProjection(withoutPassword())).Decode(&doc)
	if err != nil {
		return nil, mongoNotFound(err, "find user by id")
	}
	return doc.toModel(), nil
}

func (s *MongoStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.D{{Key: "username", Value: username}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) UpdateDisplayName(ctx context.Context, id, displayName string) (*model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc userDoc
	err = s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "displayName", Value: displayName}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(withoutPassword()),
	).Decode(&doc)
	if err != nil {
		return nil, mongoNotFound(err, "update display name")
	}
	return doc.toModel(), nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	if _, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *MongoStore) PushRefresh(ctx context.Context, userID string, entry model.RefreshTokenEntry, lastLogin *time.Time) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, pushRefreshUpdate(entry, lastLogin, s.maxSessions))
	if err != nil {
		return fmt.Errorf("push refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) RotateRefresh(ctx context.Context, oldHash string, next model.RefreshTokenEntry) (string, error) {
	var doc struct {
		ID bson.ObjectID `bson:"_id"`
	}
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "refreshTokens.tokenHash", Value: oldHash}},
		rotateRefreshPipeline(oldHash, next, s.maxSessions),
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.D{{Key: "_id", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		return "", mongoNotFound(err, "rotate refresh token")
	}
	return doc.ID.Hex(), nil
}

func (s *MongoStore) PullRefresh(ctx context.Context, userID, tokenHash string) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil
	}
	_, err = s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "refreshTokens", Value: bson.D{{Key: "tokenHash", Value: tokenHash}}}}}},
	)
	if err != nil {
		return fmt.Errorf("pull refresh token: %w", err)
	}
	return nil
}

// pushRefreshUpdate appends the entry and keeps the newest limit entries.
func pushRefreshUpdate(entry model.RefreshTokenEntry, lastLogin *time.Time, limit int) bson.D {
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "refreshTokens", Value: bson.D{
		{Key: "$each", Value: bson.A{refreshDoc{TokenHash: entry.TokenHash, CreatedAt: entry.CreatedAt}}},
		{Key: "$slice", Value: -limit},
	}}}}}
	if lastLogin != nil {
		update = append(update, bson.E{Key: "$set", Value: bson.D{{Key: "lastLogin", Value: *lastLogin}}})
	}
	return update
}

// rotateRefreshPipeline removes oldHash and appends next in one update.
// MongoDB rejects $pull and $push on the same path within a classic update
// document, hence the aggregation pipeline form.
func rotateRefreshPipeline(oldHash string, next model.RefreshTokenEntry, limit int) mongo.Pipeline {
	kept := bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: "$refreshTokens"},
		{Key: "as", Value: "rt"},
		{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$rt.tokenHash", oldHash}}}},
	}}}
	added := bson.A{bson.D{
		{Key: "tokenHash", Value: next.TokenHash},
		{Key: "createdAt", Value: next.CreatedAt},
	}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "refreshTokens", Value: bson.D{{Key: "$slice", Value: bson.A{
			bson.D{{Key: "$concatArrays", Value: bson.A{kept, added}}},
			-limit,
		}}}}}}},
	}
}

func withoutPassword() bson.D {
	return bson.D{{Key: "password", Value: 0}}
}

func mongoNotFound(err error, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *userDoc) toModel() *model.User {
	u := &model.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		DisplayName:  d.DisplayName,
		CreatedAt:    d.CreatedAt,
		LastLogin:    d.LastLogin,
	}
	for _, rt := range d.RefreshTokens {
		u.RefreshTokens = append(u.RefreshTokens, model.RefreshTokenEntry{TokenHash: rt.TokenHash, CreatedAt: rt.CreatedAt})
	}
	return u
}
