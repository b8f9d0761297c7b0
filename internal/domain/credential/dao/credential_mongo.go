package dao

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// CredentialMongo implements CredentialRepository on a social_accounts collection
type CredentialMongo struct {
	coll *mongo.Collection
}

// NewCredentialMongo creates a new MongoDB credential repository
func NewCredentialMongo(db *mongo.Database) *CredentialMongo {
	return &CredentialMongo{coll: db.Collection("social_accounts")}
}

// GetCredentials retrieves all connected accounts of a user on a platform
func (r *CredentialMongo) GetCredentials(ctx context.Context, userID string, platform entity.Platform) ([]entity.AccountCredential, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.coll.Find(ctx, accountsFilter(userID, platform), opts)
	if err != nil {
		return nil, fmt.Errorf("finding credentials: %w", err)
	}
	defer cursor.Close(ctx)

	var creds []entity.AccountCredential
	if err := cursor.All(ctx, &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}

	return creds, nil
}

// PutCredentials writes refreshed token fields back to one account
func (r *CredentialMongo) PutCredentials(ctx context.Context, userID string, platform entity.Platform, accountID string, upd entity.CredentialUpdate) error {
	filter := accountsFilter(userID, platform)
	filter = append(filter, bson.E{Key: "account_id", Value: accountID})

	res, err := r.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: credentialSet(upd, time.Now())}})
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	if res.MatchedCount == 0 {
		return entity.ErrCredentialNotFound
	}

	return nil
}

func accountsFilter(userID string, platform entity.Platform) bson.D {
	return bson.D{
		{Key: "user_id", Value: userID},
		{Key: "platform", Value: string(platform)},
		{Key: "disconnected_at", Value: nil},
	}
}

// credentialSet builds the $set document, leaving unset fields untouched
func credentialSet(upd entity.CredentialUpdate, now time.Time) bson.D {
	set := bson.D{
		{Key: "access_token", Value: upd.AccessToken},
		{Key: "updated_at", Value: now},
	}
	if upd.RefreshToken != "" {
		set = append(set, bson.E{Key: "refresh_token", Value: upd.RefreshToken})
	}
	if upd.ExpiresAt != nil {
		set = append(set, bson.E{Key: "expires_at", Value: *upd.ExpiresAt})
	}
	return set
}
