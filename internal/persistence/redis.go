package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/crew/internal/config"
	"github.com/aristath/crew/internal/workflow"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisGateway stores each workflow document under <prefix>workflow:<id>
// and indexes ids in the sorted set <prefix>workflows by creation time.
type RedisGateway struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisGateway connects to Redis, retrying the initial ping with
// exponential backoff for up to cfg.ConnectTimeout.
func NewRedisGateway(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = cfg.ConnectTimeout.Std()
	if policy.MaxElapsedTime <= 0 {
		// Zero would retry forever
		policy.MaxElapsedTime = 10 * time.Second
	}

	attempt := 0
	ping := func() error {
		attempt++
		err := client.Ping(ctx).Err()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.Debug("redis ping failed", zap.String("addr", cfg.Addr), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "crew:"
	}
	return &RedisGateway{client: client, prefix: prefix, logger: logger}, nil
}

func (g *RedisGateway) workflowKey(id string) string {
	return g.prefix + "workflow:" + id
}

func (g *RedisGateway) indexKey() string {
	return g.prefix + "workflows"
}

func (g *RedisGateway) resultsKey(id string) string {
	return g.prefix + "results:" + id
}

// Save writes the document and index entry in one pipeline.
func (g *RedisGateway) Save(ctx context.Context, w *workflow.Workflow) error {
	data, err := encodeDocument(w)
	if err != nil {
		return err
	}

	pipe := g.client.TxPipeline()
	pipe.Set(ctx, g.workflowKey(w.ID), data, 0)
	pipe.ZAdd(ctx, g.indexKey(), redis.Z{Score: float64(w.CreatedAt.UnixNano()), Member: w.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", w.ID, err)
	}
	return nil
}

// Load reads one workflow document.
func (g *RedisGateway) Load(ctx context.Context, id string) (*workflow.Workflow, error) {
	data, err := g.client.Get(ctx, g.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}
	return decodeDocument(id, data)
}

// LoadAll reads every indexed workflow in creation order. Index entries
// whose document is missing or malformed are logged and skipped.
func (g *RedisGateway) LoadAll(ctx context.Context) ([]*workflow.Workflow, error) {
	ids, err := g.client.ZRange(ctx, g.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := g.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, g.workflowKey(id))
	}
	// Missing keys surface per command as redis.Nil
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read workflows: %w", err)
	}

	workflows := make([]*workflow.Workflow, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			g.logger.Warn("skipping unreadable workflow", zap.String("workflow_id", ids[i]), zap.Error(err))
			continue
		}
		w, err := decodeDocument(ids[i], data)
		if err != nil {
			g.logger.Warn("skipping malformed workflow", zap.String("workflow_id", ids[i]), zap.Error(err))
			continue
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

// WriteResults stores the completed task results under <prefix>results:<id>.
func (g *RedisGateway) WriteResults(ctx context.Context, w *workflow.Workflow) (string, error) {
	data, err := encodeResults(w)
	if err != nil {
		return "", err
	}
	key := g.resultsKey(w.ID)
	if err := g.client.Set(ctx, key, data, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to save results: %w", err)
	}
	return "redis key " + key, nil
}

// Ping checks that Redis is reachable.
func (g *RedisGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the client.
func (g *RedisGateway) Close() error {
	return g.client.Close()
}
