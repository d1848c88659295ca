package utils

import (
	"context"
	"reflect"
	"time"

	"github.com/mmdatafocus/restore_backend/config"
)

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

func redisKey[T any](id string) string {
	return GetTypeName[T]() + ":" + id
}

// store instance under Type:id
func StoreRedis[T any](ctx context.Context, obj T, id string, exp time.Duration) error {
	return config.SetRedisObject(ctx, redisKey[T](id), obj, exp)
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](ctx context.Context, id string) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(ctx, redisKey[T](id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

// remove an instance, Type:id
func RemoveRedisItem[T any](ctx context.Context, id string) error {
	return config.RemoveRedisKey(ctx, redisKey[T](id))
}
