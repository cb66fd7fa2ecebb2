package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

var _ repository.DeviceLocker = (*redisDeviceLock)(nil)

const lockKeyPrefix = "sayonara:device:"

// releaseScript deletes the key only while it still holds the caller's job id.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisDeviceLock struct {
	client *goredis.Client
}

// NewRedisDeviceLocker creates a Redis-backed device lock using SETNX.
// Locks carry no TTL; they are held until the job is journaled as terminal.
func NewRedisDeviceLocker(client *goredis.Client) repository.DeviceLocker {
	return &redisDeviceLock{client: client}
}

// Acquire uses SETNX to atomically claim the device for jobID.
func (r *redisDeviceLock) Acquire(ctx context.Context, deviceID string, jobID uuid.UUID) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+deviceID, jobID.String(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire device lock: %w", err)
	}
	return ok, nil
}

func (r *redisDeviceLock) Release(ctx context.Context, deviceID string, jobID uuid.UUID) error {
	if err := releaseScript.Run(ctx, r.client, []string{lockKeyPrefix + deviceID}, jobID.String()).Err(); err != nil {
		return fmt.Errorf("redis: release device lock: %w", err)
	}
	return nil
}
