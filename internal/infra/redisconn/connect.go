package redisconn

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect membuat client Redis dan memastikan koneksi hidup.
// Client dibuat sekali saat startup dan di-inject, bukan global.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 50,
	})

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx2).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
