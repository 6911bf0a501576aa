package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edirooss/hdr-recorder/internal/service"
	"github.com/edirooss/hdr-recorder/internal/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a silent camera's telemetry stays visible.
const DefaultTTL = 10 * time.Second

// ErrNotFound signals no telemetry is stored for a camera.
var ErrNotFound = errors.New("telemetry not found")

func statsKey(id string) string  { return "camera:" + id + ":stats" }
func statusKey(id string) string { return "camera:" + id + ":status" }

// TelemetryRepository publishes one camera's live telemetry to Redis and
// reads back any camera's.
//
// Every value is a JSON blob written with a TTL and refreshed on each
// publish, so a camera that stops publishing disappears on its own.
// Consumers must treat all reads as eventually consistent snapshots.
type TelemetryRepository struct {
	client   *RedisClient
	log      *zap.Logger
	cameraID string
	ttl      time.Duration
}

func newTelemetryRepository(log *zap.Logger, client *RedisClient, cameraID string, ttl time.Duration) *TelemetryRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TelemetryRepository{
		client:   client,
		log:      log.Named("telemetry").With(zap.String("camera_id", cameraID)),
		cameraID: cameraID,
		ttl:      ttl,
	}
}

// PublishStats stores snap at camera:<id>:stats (stats.Publisher).
func (r *TelemetryRepository) PublishStats(ctx context.Context, snap stats.Snapshot) error {
	return r.set(ctx, statsKey(r.cameraID), snap)
}

// PublishStatus stores st at camera:<id>:status (service.StatusPublisher).
func (r *TelemetryRepository) PublishStatus(ctx context.Context, st service.UiState) error {
	return r.set(ctx, statusKey(r.cameraID), st)
}

func (r *TelemetryRepository) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetStats returns the last stats snapshot published for id.
func (r *TelemetryRepository) GetStats(ctx context.Context, id string) (*stats.Snapshot, error) {
	s, err := r.client.Get(ctx, statsKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get: %w", err)
	}
	var snap stats.Snapshot
	if err := json.Unmarshal([]byte(s), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &snap, nil
}

// GetSummariesByID fetches stats and status for the given camera IDs in a
// single MGET.
//
//   - Cameras with neither key present are omitted.
//   - A camera may have only one of the two (e.g. a key expired between
//     publishes); the missing one is nil.
func (r *TelemetryRepository) GetSummariesByID(ctx context.Context, ids []string) (map[string]*service.TelemetrySummary, error) {
	if len(ids) == 0 {
		return map[string]*service.TelemetrySummary{}, nil
	}

	keys := make([]string, 0, len(ids)*2)
	for _, id := range ids {
		keys = append(keys, statsKey(id), statusKey(id))
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	return summariesFromValues(ids, vals)
}

// summariesFromValues walks MGET results in steps of 2 (stats, status).
func summariesFromValues(ids []string, vals []any) (map[string]*service.TelemetrySummary, error) {
	if len(vals) != len(ids)*2 {
		return nil, fmt.Errorf("mget returned %d values for %d keys", len(vals), len(ids)*2)
	}

	out := make(map[string]*service.TelemetrySummary, len(ids))
	for i, id := range ids {
		st, err := optionalVal(vals[2*i])
		if err != nil {
			return nil, fmt.Errorf("stats for camera %s: %w", id, err)
		}
		status, err := optionalVal(vals[2*i+1])
		if err != nil {
			return nil, fmt.Errorf("status for camera %s: %w", id, err)
		}
		if st == nil && status == nil {
			continue
		}
		out[id] = &service.TelemetrySummary{Stats: st, Status: status}
	}
	return out, nil
}

func optionalVal(v any) (*json.RawMessage, error) {
	if v == nil {
		return nil, nil // value missing (optional)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type (got %T, want string)", v)
	}
	rawJSON := json.RawMessage(s)
	return &rawJSON, nil
}

// CameraID is the camera this repository publishes for.
func (r *TelemetryRepository) CameraID() string { return r.cameraID }
