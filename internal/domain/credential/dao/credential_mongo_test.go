package dao

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

func TestCredentialSet_OnlyAccessToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	set := credentialSet(entity.CredentialUpdate{AccessToken: "new"}, now)

	assert.Equal(t, bson.D{
		{Key: "access_token", Value: "new"},
		{Key: "updated_at", Value: now},
	}, set)
}

func TestCredentialSet_AllFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exp := now.Add(time.Hour)

	set := credentialSet(entity.CredentialUpdate{
		AccessToken:  "new",
		RefreshToken: "rt",
		ExpiresAt:    &exp,
	}, now)

	assert.Len(t, set, 4)
	assert.Equal(t, "refresh_token", set[2].Key)
	assert.Equal(t, "rt", set[2].Value)
	assert.Equal(t, "expires_at", set[3].Key)
	assert.Equal(t, exp, set[3].Value)
}

func TestAccountsFilter(t *testing.T) {
	f := accountsFilter("u1", entity.PlatformTikTok)

	assert.Equal(t, bson.D{
		{Key: "user_id", Value: "u1"},
		{Key: "platform", Value: "tiktok"},
		{Key: "disconnected_at", Value: nil},
	}, f)
}
