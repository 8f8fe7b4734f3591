package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDisconnected is returned by operations that need a live backend.
var ErrDisconnected = errors.New("cache disconnected")

const scanBatch = 256

// Redis implements Cache on a go-redis client.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ Cache = (*Redis)(nil)

// NewRedis wraps client. Keys are namespaced by prefix when non-empty.
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, logger: logger.With("component", "cache")}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) strip(k string) string { return strings.TrimPrefix(k, r.prefix) }

func (r *Redis) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		r.logger.Warn("cache get failed", "key", key, "error", err)
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cache value: %w", err)
	}
	return true, nil
}

func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	return n > 0, err
}

// DeletePattern removes keys matching a glob pattern using SCAN so large
// keyspaces do not block the server.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := r.scan(ctx, pattern, 0)
	if err != nil {
		return 0, err
	}
	var removed int64
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (r *Redis) Keys(ctx context.Context, pattern string, limit int) ([]string, error) {
	keys, err := r.scan(ctx, pattern, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.strip(k))
	}
	return out, nil
}

func (r *Redis) scan(ctx context.Context, pattern string, limit int) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "*"
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.key(pattern), scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if limit > 0 && len(keys) >= limit {
			return keys[:limit], nil
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *Redis) Incr(ctx context.Context, key string, by int64) (int64, error) {
	return r.client.IncrBy(ctx, r.key(key), by).Result()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.Ping(ctx) == nil
}

func (r *Redis) Stats(ctx context.Context) Stats {
	raw, err := r.client.Info(ctx).Result()
	if err != nil {
		return Stats{Status: "error", Error: err.Error()}
	}
	return parseInfo(raw)
}

// parseInfo extracts the fields reported by Stats from INFO output.
func parseInfo(raw string) Stats {
	fields := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	num := func(k string) int64 {
		n, _ := strconv.ParseInt(fields[k], 10, 64)
		return n
	}
	stats := Stats{
		Status:                 "connected",
		UsedMemory:             fields["used_memory_human"],
		ConnectedClients:       num("connected_clients"),
		TotalCommandsProcessed: num("total_commands_processed"),
		KeyspaceHits:           num("keyspace_hits"),
		KeyspaceMisses:         num("keyspace_misses"),
	}
	if stats.UsedMemory == "" {
		stats.UsedMemory = "N/A"
	}
	if total := stats.KeyspaceHits + stats.KeyspaceMisses; total > 0 {
		stats.HitRate = float64(stats.KeyspaceHits) / float64(total)
	}
	return stats
}
