package bus

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig RabbitMQ 驱动配置
type AMQPConfig struct {
	URL string
}

// amqpSubscriber RabbitMQ 订阅者
//
// 每个逻辑频道映射为一个 fanout 交换机，绑定一个独占的
// 自动删除队列，与 Redis Pub/Sub 的即发即弃语义对齐。
type amqpSubscriber struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	closeOnce sync.Once
	closeErr  error
}

// newAMQPSubscriber 创建 RabbitMQ 订阅者
func newAMQPSubscriber(cfg *AMQPConfig) (Subscriber, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("%w: amqp url is required", ErrInvalidConfig)
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bus: amqp channel: %w", err)
	}

	return &amqpSubscriber{conn: conn, channel: ch}, nil
}

// Subscribe 订阅频道
func (s *amqpSubscriber) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	out := make(chan Message)
	var wg sync.WaitGroup

	for _, name := range channels {
		if err := s.channel.ExchangeDeclare(name, "fanout", false, true, false, false, nil); err != nil {
			return nil, fmt.Errorf("bus: amqp exchange %q: %w", name, err)
		}

		q, err := s.channel.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return nil, fmt.Errorf("bus: amqp queue for %q: %w", name, err)
		}

		if err := s.channel.QueueBind(q.Name, "", name, false, nil); err != nil {
			return nil, fmt.Errorf("bus: amqp bind %q: %w", name, err)
		}

		deliveries, err := s.channel.Consume(q.Name, "", true, true, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("bus: amqp consume %q: %w", name, err)
		}

		wg.Add(1)
		go func(channel string, deliveries <-chan amqp.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					select {
					case out <- Message{Channel: channel, Payload: d.Body}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(name, deliveries)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// Close 关闭订阅（幂等）
func (s *amqpSubscriber) Close() error {
	s.closeOnce.Do(func() {
		if err := s.channel.Close(); err != nil {
			s.closeErr = err
		}
		if err := s.conn.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
