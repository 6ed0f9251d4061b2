package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is what a refresh token stands for.
type Session struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// TokenRepo persists refresh token hashes in Redis. Each hash is a key
// holding the JSON session with the token's TTL; a per-user set indexes
// the live hashes so every session of a user can be revoked at once.
type TokenRepo struct {
	RDB    redis.UniversalClient
	Prefix string
}

func NewTokenRepo(rdb redis.UniversalClient) *TokenRepo {
	return &TokenRepo{RDB: rdb, Prefix: "rt"}
}

func (r *TokenRepo) tokenKey(hash string) string { return r.Prefix + ":tok:" + hash }
func (r *TokenRepo) userKey(username string) string {
	return r.Prefix + ":user:" + username
}

// StoreRefresh saves a refresh token hash for ttl.
func (r *TokenRepo) StoreRefresh(ctx context.Context, s Session, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("refresh ttl must be positive, got %s", ttl)
	}
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	uk := r.userKey(s.Username)
	_, err = r.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.tokenKey(tokenHash), body, ttl)
		p.SAdd(ctx, uk, tokenHash)
		p.Expire(ctx, uk, ttl)
		return nil
	})
	return err
}

// ConsumeRefresh atomically removes a refresh token and returns its
// session, so a token can be exchanged at most once.
func (r *TokenRepo) ConsumeRefresh(ctx context.Context, tokenHash string) (Session, error) {
	raw, err := r.RDB.GetDel(ctx, r.tokenKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrTokenNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	_ = r.RDB.SRem(ctx, r.userKey(s.Username), tokenHash).Err()
	return s, nil
}

// RevokeByHash deletes a single refresh token. Revoking an unknown token
// returns ErrTokenNotFound.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.ConsumeRefresh(ctx, tokenHash)
	return err
}

// RevokeAllForUser deletes every live refresh token of username.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, username string) error {
	uk := r.userKey(username)
	hashes, err := r.RDB.SMembers(ctx, uk).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, r.tokenKey(h))
	}
	keys = append(keys, uk)
	return r.RDB.Del(ctx, keys...).Err()
}
