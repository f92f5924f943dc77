package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces identity keys in a shared Redis.
const DefaultKeyPrefix = "graylogic:hub:identity:"

// RedisStore implements Store on Redis. Each address is a key holding its
// identifier; a reverse key per identifier guards against reuse.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on rdb. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) addrKey(hwAddr string) string { return s.prefix + "addr:" + hwAddr }
func (s *RedisStore) idKey(id string) string       { return s.prefix + "id:" + id }

// Lookup returns the identifier stored for hwAddr.
func (s *RedisStore) Lookup(ctx context.Context, hwAddr string) (string, bool, error) {
	if hwAddr == "" {
		return "", false, ErrInvalidAddress
	}
	id, err := s.rdb.Get(ctx, s.addrKey(hwAddr)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up identity: %w", err)
	}
	return id, true, nil
}

// Assign claims id for hwAddr and releases the address's previous id.
func (s *RedisStore) Assign(ctx context.Context, hwAddr, id string) error {
	if err := validate(hwAddr, id); err != nil {
		return err
	}

	owner, err := s.rdb.Get(ctx, s.idKey(id)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("assigning identity: %w", err)
	case owner != hwAddr:
		return ErrIDInUse
	}

	prev, err := s.rdb.GetSet(ctx, s.addrKey(hwAddr), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("assigning identity: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	if prev != "" && prev != id {
		pipe.Del(ctx, s.idKey(prev))
	}
	pipe.Set(ctx, s.idKey(id), hwAddr, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("assigning identity: %w", err)
	}
	return nil
}

// Remove deletes hwAddr and its reverse key.
func (s *RedisStore) Remove(ctx context.Context, hwAddr string) error {
	id, err := s.rdb.GetDel(ctx, s.addrKey(hwAddr)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing identity: %w", err)
	}
	if err := s.rdb.Del(ctx, s.idKey(id)).Err(); err != nil {
		return fmt.Errorf("removing identity: %w", err)
	}
	return nil
}

// LookupOrAssign uses SETNX so that concurrent hubs sharing the same Redis
// agree on the first identifier written.
func (s *RedisStore) LookupOrAssign(ctx context.Context, hwAddr string) (string, bool, error) {
	if hwAddr == "" {
		return "", false, ErrInvalidAddress
	}

	id := NewID()
	created, err := s.rdb.SetNX(ctx, s.addrKey(hwAddr), id, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("assigning identity: %w", err)
	}
	if !created {
		existing, ok, err := s.Lookup(ctx, hwAddr)
		if err != nil {
			return "", false, err
		}
		if !ok {
			// Removed between SETNX and GET; try once more.
			return s.LookupOrAssign(ctx, hwAddr)
		}
		return existing, false, nil
	}

	if err := s.rdb.Set(ctx, s.idKey(id), hwAddr, 0).Err(); err != nil {
		return "", false, fmt.Errorf("assigning identity: %w", err)
	}
	return id, true, nil
}
