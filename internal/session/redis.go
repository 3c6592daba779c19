package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "quickauth:session:"

const (
	fieldLoggedIn = "is_logged_in"
	fieldUserID   = "user_id"
	fieldName     = "user_name"
	fieldEmail    = "user_email"
	fieldPhone    = "user_phone"
)

// RedisStore keeps a session as a Redis hash.
type RedisStore struct {
	rdb redis.Cmdable
	key string
}

// NewRedisStore creates a store for the given hash key.
func NewRedisStore(rdb redis.Cmdable, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key}
}

// NewRedisFactory scopes stores per device under prefix.
func NewRedisFactory(rdb redis.Cmdable, prefix string) Factory {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return func(deviceID string) Store {
		return NewRedisStore(rdb, prefix+deviceID)
	}
}

// Save overwrites the stored session.
func (s *RedisStore) Save(ctx context.Context, us UserSession) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key,
			fieldLoggedIn, strconv.FormatBool(us.LoggedIn),
			fieldUserID, us.UserID,
			fieldName, us.DisplayName,
			fieldEmail, us.Email,
			fieldPhone, us.Phone,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the stored session or nil.
func (s *RedisStore) Load(ctx context.Context) (*UserSession, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	loggedIn, _ := strconv.ParseBool(fields[fieldLoggedIn])
	return &UserSession{
		UserID:      fields[fieldUserID],
		DisplayName: fields[fieldName],
		Email:       fields[fieldEmail],
		Phone:       fields[fieldPhone],
		LoggedIn:    loggedIn,
	}, nil
}

// Clear removes the stored session.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
