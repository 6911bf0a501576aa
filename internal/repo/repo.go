package repo

import (
	"time"

	"go.uber.org/zap"
)

type Repository struct {
	log    *zap.Logger
	client *RedisClient

	Telemetry *TelemetryRepository
}

// NewRepository connects to Redis and publishes telemetry for cameraID.
// Published keys expire after ttl unless refreshed.
func NewRepository(log *zap.Logger, addr string, db int, cameraID string, ttl time.Duration) *Repository {
	log = log.Named("repo")
	client := NewRedisClient(log, addr, db)

	return &Repository{
		log:       log,
		client:    client,
		Telemetry: newTelemetryRepository(log, client, cameraID, ttl),
	}
}

func (r *Repository) Close() error {
	return r.client.Close()
}
