package events

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisSink pushes events onto a Redis list.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink connects to the Redis URL. An empty key uses xlsbundle:events.
func NewRedisSink(url, key string) (*RedisSink, error) {
	if key == "" {
		key = "xlsbundle:events"
	}
	if url == "" {
		return nil, fmt.Errorf("redis event sink requires a url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(opt), key: key}, nil
}

// Publish RPUSHes the JSON-encoded event.
func (r *RedisSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key, data).Err()
}

// List returns the events currently on the list.
func (r *RedisSink) List(ctx context.Context) ([]Event, error) {
	vals, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Event, 0, len(vals))
	for _, v := range vals {
		var ev Event
		if err := json.Unmarshal([]byte(v), &ev); err == nil {
			items = append(items, ev)
		}
	}
	return items, nil
}

func (r *RedisSink) Close() error { return r.client.Close() }
