package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sublink-app/sublink/domain"
	sublinkerrors "github.com/sublink-app/sublink/errors"
)

// ConnectionRepository implements domain.ConnectionRepository on MongoDB.
type ConnectionRepository struct {
	coll *mongo.Collection
}

func NewConnectionRepository(ctx context.Context, db *mongo.Database) (domain.ConnectionRepository, error) {
	coll := db.Collection(ConnectionsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create connection indexes: %w", err)
	}

	return &ConnectionRepository{coll: coll}, nil
}

func (r *ConnectionRepository) Create(ctx context.Context, conn *domain.ProviderConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, conn); err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*domain.ProviderConnection, error) {
	var conn domain.ProviderConnection
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, sublinkerrors.NewConnectionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	return &conn, nil
}

func (r *ConnectionRepository) GetByUserAndProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.ProviderConnection, error) {
	var conn domain.ProviderConnection
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID, "provider": provider}).Decode(&conn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, sublinkerrors.NewConnectionNotFound(string(provider))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection for user %s: %w", userID, err)
	}
	return &conn, nil
}

func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ProviderConnection, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list connections for user %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.ProviderConnection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id string, upd domain.TokenUpdate) error {
	set := bson.M{
		"access_token_enc":  upd.AccessTokenEnc,
		"token_expires_at":  upd.TokenExpiresAt,
		"last_refreshed_at": upd.LastRefreshedAt,
		"status":            domain.ConnectionActive,
	}
	// An absent rotated token means "not rotated": keep the stored one.
	if upd.RefreshTokenEnc != "" {
		set["refresh_token_enc"] = upd.RefreshTokenEnc
	}

	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}
	if result.MatchedCount == 0 {
		return sublinkerrors.NewConnectionNotFound(id)
	}
	return nil
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	if result.MatchedCount == 0 {
		return sublinkerrors.NewConnectionNotFound(id)
	}
	return nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if result.DeletedCount == 0 {
		return sublinkerrors.NewConnectionNotFound(id)
	}
	return nil
}
