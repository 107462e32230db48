// Package snapshot caches the latest aggregated price per asset in Redis so
// external consumers can read consensus output without calling the engine.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/oracle"
)

const keyPrefix = "oracle:latest:"

// Publisher writes aggregation results to Redis. It implements
// engine.Publisher; writes happen on a background goroutine so the engine is
// never blocked on cache I/O.
type Publisher struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger

	updates chan oracle.AggregatedPrice
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPublisher connects to Redis and starts the background writer.
func NewPublisher(addr, password string, db int, ttl time.Duration, logger *logging.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		client:  client,
		ttl:     ttl,
		logger:  logger,
		updates: make(chan oracle.AggregatedPrice, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.run()
	return p, nil
}

// PublishAggregated queues an aggregation result for caching. Never blocks; a
// full queue drops the update, the next round overwrites the key anyway.
func (p *Publisher) PublishAggregated(price oracle.AggregatedPrice) {
	select {
	case p.updates <- price:
	default:
		p.logger.Warn("Snapshot queue full, dropping update", "asset", price.Asset)
	}
}

// Latest reads the cached aggregate for an asset. Returns nil without error
// when no snapshot exists.
func (p *Publisher) Latest(ctx context.Context, asset string) (*oracle.AggregatedPrice, error) {
	data, err := p.client.Get(ctx, keyPrefix+asset).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var price oracle.AggregatedPrice
	if err := json.Unmarshal(data, &price); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &price, nil
}

// Close stops the background writer and closes the connection.
func (p *Publisher) Close() error {
	p.cancel()
	return p.client.Close()
}

func (p *Publisher) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case price := <-p.updates:
			if err := p.set(price); err != nil {
				p.logger.Error("Failed to cache aggregated price", "asset", price.Asset, "error", err)
			}
		}
	}
}

func (p *Publisher) set(price oracle.AggregatedPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()

	if err := p.client.Set(ctx, keyPrefix+price.Asset, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}
	return nil
}
