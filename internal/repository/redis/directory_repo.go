package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"peercall-backend/internal/database"
	"peercall-backend/internal/domain"
	"peercall-backend/pkg/constants"
)

// ErrUserNotCached signals a directory cache miss
var ErrUserNotCached = fmt.Errorf("user not found in directory cache")

// DirectoryRepository caches user display profiles in Redis.
// The authoritative user store lives in a separate identity service; this
// cache keeps history and incoming-call rendering from hitting it on every
// page.
type DirectoryRepository struct {
	client *database.RedisClient
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *database.RedisClient) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

// CacheUserInfo stores a user's display profile with TTL
func (r *DirectoryRepository) CacheUserInfo(ctx context.Context, info *domain.UserInfo) error {
	key := fmt.Sprintf("directory:user:%s", info.UserID)

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal user info: %w", err)
	}

	if err := r.client.SafeSet(ctx, key, data, constants.DirectoryCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache user info: %w", err)
	}

	return nil
}

// GetUserInfo retrieves a cached user display profile
func (r *DirectoryRepository) GetUserInfo(ctx context.Context, userID uuid.UUID) (*domain.UserInfo, error) {
	key := fmt.Sprintf("directory:user:%s", userID)

	data, err := r.client.SafeGet(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrUserNotCached
		}
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}

	info := &domain.UserInfo{}
	if err := json.Unmarshal([]byte(data), info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user info: %w", err)
	}

	return info, nil
}

// InvalidateUserInfo drops a user's cached profile
func (r *DirectoryRepository) InvalidateUserInfo(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("directory:user:%s", userID)
	return r.client.SafeDel(ctx, key).Err()
}
