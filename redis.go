package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// flushRedisCache empties the target resolver's Redis cache so the run
// measures cold-cache behaviour. A failed flush invalidates the measurement,
// so the caller treats any error as fatal before workers start.
func flushRedisCache(ctx context.Context, addr, password string, db int) error {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("flushing redis cache at %s: %w", addr, err)
	}
	return nil
}
