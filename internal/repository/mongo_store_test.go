package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rashiddalii/moodlog-server/internal/model"
)

func TestPushRefreshUpdateSlicesToBound(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	update := pushRefreshUpdate(model.RefreshTokenEntry{TokenHash: "h1", CreatedAt: at}, nil, 20)

	require.Len(t, update, 1)
	assert.Equal(t, "$push", update[0].Key)
	push, ok := update[0].Value.(bson.D)
	require.True(t, ok)
	require.Len(t, push, 1)
	assert.Equal(t, "refreshTokens", push[0].Key)

	mod, ok := push[0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, "$each", mod[0].Key)
	assert.Equal(t, bson.A{refreshDoc{TokenHash: "h1", CreatedAt: at}}, mod[0].Value)
	assert.Equal(t, bson.E{Key: "$slice", Value: -20}, mod[1])
}

func TestPushRefreshUpdateSetsLastLogin(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	update := pushRefreshUpdate(model.RefreshTokenEntry{TokenHash: "h1", CreatedAt: at}, &at, 5)

	require.Len(t, update, 2)
	assert.Equal(t, "$set", update[1].Key)
	assert.Equal(t, bson.D{{Key: "lastLogin", Value: at}}, update[1].Value)
}

func TestRotateRefreshPipelineSwapsInOneStage(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pipeline := rotateRefreshPipeline("old-hash", model.RefreshTokenEntry{TokenHash: "new-hash", CreatedAt: at}, 20)
	require.Len(t, pipeline, 1)

	raw, err := bson.MarshalExtJSON(pipeline[0], false, false)
	require.NoError(t, err)
	js := string(raw)

	assert.Contains(t, js, `"$set"`)
	assert.Contains(t, js, `"$slice"`)
	assert.Contains(t, js, `"$concatArrays"`)
	assert.Contains(t, js, `"$filter"`)
	assert.Contains(t, js, `"$ne":["$$rt.tokenHash","old-hash"]`)
	assert.Contains(t, js, `"tokenHash":"new-hash"`)
	assert.Contains(t, js, `-20`)
}

func TestUserDocToModel(t *testing.T) {
	oid := bson.NewObjectID()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := userDoc{
		ID:            oid,
		Username:      "alice",
		PasswordHash:  "digest",
		DisplayName:   "Alice",
		CreatedAt:     at,
		RefreshTokens: []refreshDoc{{TokenHash: "h1", CreatedAt: at}},
	}

	u := doc.toModel()
	assert.Equal(t, oid.Hex(), u.ID)
	assert.Equal(t, "digest", u.PasswordHash)
	assert.True(t, u.HasRefreshToken("h1"))
	assert.Nil(t, u.LastLogin)
}
