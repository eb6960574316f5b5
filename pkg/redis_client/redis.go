package redis_client

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var Client *redis.Client

// Connect sets up Client and checks the server responds. Redis is optional, so an
// empty address leaves Client nil and returns no error.
func Connect(address string, password string, database int) error {
	if address == "" {
		log.Info().Msg("Skipping Redis setup")
		return nil
	}

	Client = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})

	if err := Client.Ping(context.Background()).Err(); err != nil {
		Client = nil
		return err
	}

	log.Info().Str("address", address).Int("database", database).Msg("Connected to Redis")

	return nil
}
