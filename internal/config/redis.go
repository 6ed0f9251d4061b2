package config

// This file defines the Redis client constructor. Redis backs the
// credential-endpoint rate limiter and the refresh token store. If the
// server cannot be reached at startup the constructor returns nil and
// callers degrade gracefully: rate limiting is skipped and refresh tokens
// are refused.

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//
//	REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//	REDIS_ADDR – host:port shorthand (used when host/port are not both set)
//	REDIS_PASSWORD – optional password
//	REDIS_DB – database number (default 0)
//	REDIS_TLS – enable TLS when "true" or "1"
//
// The returned client is nil if a connection cannot be established.
func NewRedisClient(ctx context.Context) *redis.Client {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	addr := os.Getenv("REDIS_ADDR")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	dbNum := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			dbNum = n
		}
	}
	var tlsConf *tls.Config
	if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        dbNum,
		TLSConfig: tlsConf,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
