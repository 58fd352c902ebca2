package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAdminListCacheStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisAdminListCacheStore(client redis.UniversalClient, prefix string) *RedisAdminListCacheStore {
	if prefix == "" {
		prefix = "admin_list_cache"
	}
	return &RedisAdminListCacheStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisAdminListCacheStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	payload, err := s.client.Get(ctx, s.dataKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// GetWithAge reports age 0 when the meta key is missing or unreadable; the
// payload is still served.
func (s *RedisAdminListCacheStore) GetWithAge(ctx context.Context, namespace, key string) ([]byte, bool, time.Duration, error) {
	if s.client == nil {
		return nil, false, 0, nil
	}
	pipe := s.client.Pipeline()
	dataCmd := pipe.Get(ctx, s.dataKey(namespace, key))
	metaCmd := pipe.Get(ctx, s.metaKey(namespace, key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, 0, err
	}
	payload, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, 0, nil
	}
	if err != nil {
		return nil, false, 0, err
	}
	raw, err := metaCmd.Result()
	if err != nil {
		return payload, true, 0, nil
	}
	storedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return payload, true, 0, nil
	}
	age := s.now().Sub(time.UnixMilli(storedAt))
	if age < 0 {
		age = 0
	}
	return payload, true, age, nil
}

func (s *RedisAdminListCacheStore) Set(ctx context.Context, namespace, key string, payload []byte, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	dataKey := s.dataKey(namespace, key)
	metaKey := s.metaKey(namespace, key)
	namespaceIndex := s.namespaceIndexKey(namespace)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, payload, ttl)
	pipe.Set(ctx, metaKey, strconv.FormatInt(s.now().UnixMilli(), 10), ttl)
	pipe.SAdd(ctx, namespaceIndex, dataKey, metaKey)
	pipe.Expire(ctx, namespaceIndex, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisAdminListCacheStore) InvalidateNamespace(ctx context.Context, namespace string) error {
	if s.client == nil {
		return nil
	}
	namespaceIndex := s.namespaceIndexKey(namespace)
	keys, err := s.client.SMembers(ctx, namespaceIndex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, namespaceIndex)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisAdminListCacheStore) dataKey(namespace, key string) string {
	return fmt.Sprintf("%s:data:%s:%s", s.prefix, normalizeToken(namespace), hashToken(key))
}

func (s *RedisAdminListCacheStore) metaKey(namespace, key string) string {
	return fmt.Sprintf("%s:meta:%s:%s", s.prefix, normalizeToken(namespace), hashToken(key))
}

func (s *RedisAdminListCacheStore) namespaceIndexKey(namespace string) string {
	return fmt.Sprintf("%s:index:%s", s.prefix, normalizeToken(namespace))
}
