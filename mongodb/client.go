package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const (
	// ConnectionsCollection holds one document per (user, provider)
	// connection, tokens encrypted.
	ConnectionsCollection = "provider_connections"
)

var (
	clientInstance *mongo.Client
	clientOnce     sync.Once
	dbInstance     *mongo.Database
	dbOnce         sync.Once
)

// InitMongoDB initializes the MongoDB client and database instances. It
// should be called once at application startup.
func InitMongoDB(ctx context.Context, uri, dbName string) error {
	var err error
	clientOnce.Do(func() {
		log.Info().Str("db", dbName).Msg("Initializing MongoDB client")
		clientOptions := options.Client().ApplyURI(uri)
		clientOptions.SetConnectTimeout(10 * time.Second)
		clientOptions.SetMonitor(otelmongo.NewMonitor())

		client, clientErr := mongo.Connect(ctx, clientOptions)
		if clientErr != nil {
			err = clientErr
			return
		}

		if pingErr := client.Ping(ctx, readpref.Primary()); pingErr != nil {
			err = pingErr
			return
		}
		clientInstance = client
		log.Info().Msg("MongoDB client initialized successfully.")
	})
	if err != nil {
		return err
	}
	if clientInstance == nil {
		return errors.New("mongodb client not initialized")
	}

	dbOnce.Do(func() {
		dbInstance = clientInstance.Database(dbName)
	})

	return nil
}

// GetDB returns the MongoDB database instance. It panics if InitMongoDB has
// not been called successfully.
func GetDB() *mongo.Database {
	if dbInstance == nil {
		log.Fatal().Msg("MongoDB database instance is not initialized. Call InitMongoDB first.")
	}
	return dbInstance
}

// Ping sends a ping to the MongoDB server, for health checks.
func Ping(ctx context.Context) error {
	if clientInstance == nil {
		return errors.New("mongodb client is not initialized")
	}
	return clientInstance.Ping(ctx, readpref.Primary())
}

// CloseMongoDB disconnects the client during shutdown.
func CloseMongoDB(ctx context.Context) {
	if clientInstance == nil {
		return
	}
	if err := clientInstance.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error disconnecting MongoDB client")
	}
}
