package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// PostMongo implements PostRepository on a posts collection
type PostMongo struct {
	coll *mongo.Collection
}

// NewPostMongo creates a new MongoDB post repository
func NewPostMongo(db *mongo.Database) *PostMongo {
	return &PostMongo{coll: db.Collection("posts")}
}

// Create inserts a new post
func (r *PostMongo) Create(ctx context.Context, post *entity.Post) error {
	if _, err := r.coll.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}
	return nil
}

// GetByID retrieves a post by ID
func (r *PostMongo) GetByID(ctx context.Context, id string) (*entity.Post, error) {
	var post entity.Post
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding post: %w", err)
	}
	return &post, nil
}

// FindDue retrieves scheduled posts that are due for dispatch
func (r *PostMongo) FindDue(ctx context.Context, now time.Time) ([]entity.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})

	cursor, err := r.coll.Find(ctx, dueFilter(now), opts)
	if err != nil {
		return nil, fmt.Errorf("finding due posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []entity.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decoding due posts: %w", err)
	}

	return posts, nil
}

// ClaimForProcessing moves a pending post to processing
func (r *PostMongo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: string(entity.PostStatusPending)},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(entity.PostStatusProcessing)},
		{Key: "updated_at", Value: time.Now()},
	}}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("claiming post: %w", err)
	}

	return res.ModifiedCount == 1, nil
}

// UpdateStatus updates the status and error message
func (r *PostMongo) UpdateStatus(ctx context.Context, id string, status entity.PostStatus, errorDetail string) error {
	update := bson.D{{Key: "$set", Value: statusSet(status, errorDetail, time.Now())}}

	if _, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

// CountCreatedSince counts posts a user created since the given time
func (r *PostMongo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since}}},
	}

	count, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}
	return count, nil
}

func dueFilter(now time.Time) bson.D {
	return bson.D{
		{Key: "scheduled", Value: true},
		{Key: "status", Value: string(entity.PostStatusPending)},
		{Key: "scheduled_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}
}

func statusSet(status entity.PostStatus, errorDetail string, now time.Time) bson.D {
	set := bson.D{
		{Key: "status", Value: string(status)},
		{Key: "error_message", Value: errorDetail},
		{Key: "updated_at", Value: now},
	}
	if status == entity.PostStatusCompleted || status == entity.PostStatusFailed {
		set = append(set, bson.E{Key: "processed_at", Value: now})
	}
	return set
}
