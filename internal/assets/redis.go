package assets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr   string
	DB     int
	Prefix string
	// Client overrides Addr/DB when set.
	Client *redis.Client
}

// Redis keeps usage in one hash per model and each chat history in a hash
// holding the fingerprint and body. A per-tracking-id set indexes the
// history keys so RemoveChatHistory can drop them all.
type Redis struct {
	Root
	rdb    *redis.Client
	prefix string
	owned  bool
}

// NewRedis connects to redis and pings it.
func NewRedis(root Root, opts RedisOptions) (*Redis, error) {
	rdb, owned := opts.Client, false
	if rdb == nil {
		if opts.Addr == "" {
			return nil, errors.New("redis store: addr is required")
		}
		rdb, owned = redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB}), true
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "sessiond"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		if owned {
			_ = rdb.Close()
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{Root: root, rdb: rdb, prefix: prefix, owned: owned}, nil
}

func (r *Redis) usageKey(ref string) string { return r.prefix + ":usage:" + ref }

// historyKey length-prefixes the caller-chosen tracking id so ids containing
// ':' cannot alias another (trackingID, modelID) pair.
func (r *Redis) historyKey(trackingID, modelID string) string {
	return fmt.Sprintf("%s:history:%d:%s:%s", r.prefix, len(trackingID), trackingID, modelID)
}

func (r *Redis) indexKey(trackingID string) string { return r.prefix + ":history-index:" + trackingID }

func (r *Redis) MarkModelUsed(ctx context.Context, ref string) error {
	key := r.usageKey(ref)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, "count", 1)
		p.HSet(ctx, key, "last_used", time.Now().UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark model used: %w", err)
	}
	return nil
}

func (r *Redis) Usage(ctx context.Context, ref string) (Usage, error) {
	vals, err := r.rdb.HGetAll(ctx, r.usageKey(ref)).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}
	var u Usage
	if c, err := strconv.ParseInt(vals["count"], 10, 64); err == nil {
		u.Count = c
	}
	if ms, err := strconv.ParseInt(vals["last_used"], 10, 64); err == nil {
		u.LastUsed = time.UnixMilli(ms)
	}
	return u, nil
}

func (r *Redis) LoadChatHistory(ctx context.Context, trackingID, modelID, fingerprint string) ([]byte, bool, error) {
	vals, err := r.rdb.HMGet(ctx, r.historyKey(trackingID, modelID), "fingerprint", "body").Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load chat history: %w", err)
	}
	fp, _ := vals[0].(string)
	body, _ := vals[1].(string)
	if fp == "" || fp != fingerprint {
		return nil, false, nil
	}
	return []byte(body), true, nil
}

func (r *Redis) SaveChatHistory(ctx context.Context, trackingID, modelID, fingerprint string, blob []byte) error {
	key := r.historyKey(trackingID, modelID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "fingerprint", fingerprint, "body", blob)
		p.SAdd(ctx, r.indexKey(trackingID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	return nil
}

func (r *Redis) RemoveChatHistory(ctx context.Context, trackingID string) error {
	idx := r.indexKey(trackingID)
	keys, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("remove chat history: %w", err)
	}
	if err := r.rdb.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("remove chat history: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}
