package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type redisStore struct {
	client valkey.Client
}

// NewRedis connects to the Valkey/Redis instance named by redisURL
// (redis://[user:pass@]host:port[/db]) and verifies it responds before
// returning.
func NewRedis(redisURL string) (Store, error) {
	if redisURL == "" {
		return nil, errors.New("cache: redis url required")
	}

	option, err := valkey.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	option.AlwaysRESP2 = true
	option.ForceSingleClient = true
	option.DisableCache = true

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	return payload, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: redis set requires a positive ttl")
	}
	cmd := s.client.B().Set().Key(key).Value(string(value)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Hget().Key(key).Field(field).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache: redis hget: %w", err)
	}
	value, err := resp.ToString()
	if err != nil {
		return "", false, fmt.Errorf("cache: redis hget value: %w", err)
	}
	return value, true, nil
}

func (s *redisStore) HSetWithExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: redis hset requires a positive ttl")
	}
	hset := s.client.B().Hset().Key(key).FieldValue()
	for field, value := range fields {
		hset = hset.FieldValue(field, value)
	}
	results := s.client.DoMulti(ctx,
		hset.Build(),
		s.client.B().Expire().Key(key).Seconds(int64(ttl/time.Second)).Build(),
	)
	for _, resp := range results {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("cache: redis hset pipeline: %w", err)
		}
	}
	return nil
}

func (s *redisStore) ListPushTrimExpire(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: redis list push requires a positive ttl")
	}
	if maxLen <= 0 {
		return errors.New("cache: redis list push requires a positive max length")
	}
	results := s.client.DoMulti(ctx,
		s.client.B().Lpush().Key(key).Element(value).Build(),
		s.client.B().Ltrim().Key(key).Start(0).Stop(maxLen-1).Build(),
		s.client.B().Expire().Key(key).Seconds(int64(ttl/time.Second)).Build(),
	)
	for _, resp := range results {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("cache: redis list pipeline: %w", err)
		}
	}
	return nil
}

func (s *redisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Lrange().Key(key).Start(start).Stop(stop).Build())
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("cache: redis lrange: %w", err)
	}
	items, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("cache: redis lrange values: %w", err)
	}
	return items, nil
}

func (s *redisStore) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	cursor := uint64(0)
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(200).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: redis scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			cmd := s.client.B().Del().Key(entry.Elements...).Build()
			if err := s.client.Do(ctx, cmd).Error(); err != nil {
				return fmt.Errorf("cache: redis del: %w", err)
			}
		}
		if entry.Cursor == 0 {
			return nil
		}
		cursor = entry.Cursor
	}
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	return nil
}

func (s *redisStore) Shared() bool { return true }

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
