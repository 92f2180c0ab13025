package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisDeviceKeyPrefix = "neuronest:device:"

type redisDeviceRepository struct {
	client redis.UniversalClient
}

// NewRedisDeviceRepository creates a DeviceStorage that keeps each device as a Redis hash.
func NewRedisDeviceRepository(client redis.UniversalClient) DeviceStorage {
	return &redisDeviceRepository{client: client}
}

func (r *redisDeviceRepository) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	if deviceID == "" {
		return "", false, ErrEmptyDeviceID
	}
	value, err := r.client.HGet(ctx, redisDeviceKeyPrefix+deviceID, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis HGET %s for device %s", key, deviceID)
	}
	return value, true, nil
}

func (r *redisDeviceRepository) Set(ctx context.Context, deviceID, key, value string) error {
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	if err := r.client.HSet(ctx, redisDeviceKeyPrefix+deviceID, key, value).Err(); err != nil {
		return errors.Wrapf(err, "redis HSET %s for device %s", key, deviceID)
	}
	return nil
}
