package dao

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

func TestDueFilter(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, bson.D{
		{Key: "scheduled", Value: true},
		{Key: "status", Value: "pending"},
		{Key: "scheduled_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}, dueFilter(now))
}

func TestStatusSet(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	processing := statusSet(entity.PostStatusProcessing, "", now)
	assert.Len(t, processing, 3)

	failed := statusSet(entity.PostStatusFailed, "boom", now)
	assert.Len(t, failed, 4)
	assert.Equal(t, "boom", failed[1].Value)
	assert.Equal(t, bson.E{Key: "processed_at", Value: now}, failed[3])
}

func TestPlatformsToStrings(t *testing.T) {
	got := platformsToStrings([]credential.Platform{credential.PlatformTwitter, credential.PlatformTikTok})
	assert.Equal(t, []string{"twitter", "tiktok"}, got)
}
