package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis 驱动配置
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// redisSubscriber Redis Pub/Sub 订阅者
type redisSubscriber struct {
	client    redis.UniversalClient
	pubsub    *redis.PubSub
	closeOnce sync.Once
	closeErr  error
}

// newRedisSubscriber 创建 Redis 订阅者
func newRedisSubscriber(cfg *RedisConfig) (Subscriber, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: redis config is required", ErrInvalidConfig)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &redisSubscriber{client: client}, nil
}

// Subscribe 订阅频道
func (s *redisSubscriber) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	if s.pubsub != nil {
		return nil, fmt.Errorf("bus: redis subscriber already subscribed")
	}

	s.pubsub = s.client.Subscribe(ctx, channels...)

	// 等待订阅确认，连接失败时尽早暴露
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		s.pubsub = nil
		return nil, fmt.Errorf("bus: redis subscribe: %w", err)
	}

	src := s.pubsub.Channel()
	out := make(chan Message)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close 关闭订阅（幂等）
func (s *redisSubscriber) Close() error {
	s.closeOnce.Do(func() {
		if s.pubsub != nil {
			s.closeErr = s.pubsub.Close()
		}
		if err := s.client.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
