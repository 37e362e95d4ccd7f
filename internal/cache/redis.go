// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blastparty/blastparty/internal/models"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) name finished matches are
// pushed onto for downstream consumers (stats, replays).
var DefaultQueueName = "blastparty_matches"

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// MatchPublisher pushes match records onto the Redis queue. It
// satisfies the room.MatchRecorder port so it can stand in for (or
// run alongside) the Postgres store.
type MatchPublisher struct {
	client *redis.Client
	queue  string
}

// NewMatchPublisher wraps a client. Queue name comes from
// MATCH_QUEUE_NAME, falling back to DefaultQueueName.
func NewMatchPublisher(client *redis.Client) *MatchPublisher {
	return &MatchPublisher{
		client: client,
		queue:  getEnv("MATCH_QUEUE_NAME", DefaultQueueName),
	}
}

// RecordMatch serializes the record to JSON and RPushes it. Quick
// network send only; consumers drain the list at their own pace.
func (p *MatchPublisher) RecordMatch(ctx context.Context, rec models.MatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchRecord: %w", err)
	}
	if err := p.client.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
