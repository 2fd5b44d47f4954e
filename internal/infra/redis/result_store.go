package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultResultTTL = time.Hour
	resultKeyPrefix  = "generation:codes"
	pushChunkSize    = 1000
)

// ResultStore keeps the codes of completed runs as a Redis list so they stay
// readable after the task leaves the in-memory registry.
type ResultStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewResultStore(client *goredis.Client, ttl time.Duration) (*ResultStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &ResultStore{client: client, ttl: ttl}, nil
}

// Save replaces the stored codes of taskID.
func (s *ResultStore) Save(ctx context.Context, taskID string, codes []string) error {
	key, err := resultKey(taskID)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return fmt.Errorf("%w: no codes to store", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		for start := 0; start < len(codes); start += pushChunkSize {
			end := min(start+pushChunkSize, len(codes))
			values := make([]any, 0, end-start)
			for _, code := range codes[start:end] {
				values = append(values, code)
			}
			pipe.RPush(ctx, key, values...)
		}
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store codes for task %s: %w", taskID, err)
	}
	return nil
}

// Load returns the stored codes in generation order.
func (s *ResultStore) Load(ctx context.Context, taskID string) ([]string, error) {
	key, err := resultKey(taskID)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	codes, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load codes for task %s: %w", taskID, err)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no stored codes for task %s", domain.ErrNotFound, taskID)
	}
	return codes, nil
}

func resultKey(taskID string) (string, error) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return "", fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	return fmt.Sprintf("%s:%s", resultKeyPrefix, id), nil
}
