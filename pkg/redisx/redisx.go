package redisx

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds the redis connection settings.
type Config struct {
	Addr     string `yaml:"addr" json:"addr" mapstructure:"addr"`
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
	DB       int    `yaml:"db" json:"db" mapstructure:"db"`
	PoolSize int    `yaml:"pool-size" json:"poolSize" mapstructure:"pool-size"`
}

// NewClient creates a redis client and verifies connectivity.
func NewClient(c Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.WithMessagef(err, "connect redis failed, addr: %s", c.Addr)
	}
	return client, nil
}
