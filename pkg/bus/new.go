package bus

import "fmt"

// Driver 总线驱动类型
type Driver string

const (
	// DriverRedis Redis Pub/Sub 驱动
	DriverRedis Driver = "redis"
	// DriverAMQP RabbitMQ 驱动
	DriverAMQP Driver = "amqp"
)

// Config 总线配置
type Config struct {
	Driver Driver
	Redis  *RedisConfig
	AMQP   *AMQPConfig
}

// New 根据配置创建订阅者
func New(cfg *Config) (Subscriber, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	switch cfg.Driver {
	case DriverRedis, "":
		return newRedisSubscriber(cfg.Redis)
	case DriverAMQP:
		return newAMQPSubscriber(cfg.AMQP)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}
