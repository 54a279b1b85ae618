// Package config 加载网关进程配置。
//
// 配置在启动时一次性读入为不可变结构体，运行期不再变更。
// 支持 YAML 配置文件与 TIDE_ 前缀的环境变量覆盖。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tokmz/tide/pkg/logger"
)

// Config 网关进程配置
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	App    AppConfig    `mapstructure:"app"`
	Bus    BusConfig    `mapstructure:"bus"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig 监听配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`            // 监听端口
	UnixSocket     string        `mapstructure:"unix_socket"`     // 可选 unix socket 路径
	MaxConnections int           `mapstructure:"max_connections"` // 最大连接数
	ShutdownWait   time.Duration `mapstructure:"shutdown_wait"`   // 优雅关闭等待时间
}

// AuthConfig 握手认证配置
type AuthConfig struct {
	DefaultSite   string        `mapstructure:"default_site"`   // 回环地址的默认租户
	HintHeader    string        `mapstructure:"hint_header"`    // 租户提示 Header 名
	EnforceOrigin bool          `mapstructure:"enforce_origin"` // 是否校验 Origin 与 Host 一致
	VerifyScheme  string        `mapstructure:"verify_scheme"`  // 身份校验请求协议（http/https）
	VerifyPath    string        `mapstructure:"verify_path"`    // 身份校验请求路径
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"` // 身份校验超时
}

// AppConfig 应用级命名空间配置
type AppConfig struct {
	Prefix string `mapstructure:"prefix"` // 应用命名空间前缀
}

// DefaultNamespace 应用默认命名空间路径
func (c AppConfig) DefaultNamespace() string {
	return "/" + c.Prefix + "/default"
}

// BusConfig 消息总线配置
type BusConfig struct {
	Driver        string      `mapstructure:"driver"`         // 驱动（redis/amqp）
	GlobalChannel string      `mapstructure:"global_channel"` // 全局事件频道
	AppChannel    string      `mapstructure:"app_channel"`    // 应用事件频道
	Redis         RedisConfig `mapstructure:"redis"`
	AMQP          AMQPConfig  `mapstructure:"amqp"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AMQPConfig RabbitMQ 连接配置
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Console bool   `mapstructure:"console"`
	File    string `mapstructure:"file"`
}

// LoggerConfig 转换为 logger 包配置
func (c LogConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:   c.Level,
		Format:  logger.Format(c.Format),
		Console: c.Console,
		File:    c.File,
	}
}

// Load 加载配置。path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// 与外围 realtime 服务的 9000 端口区分
	v.SetDefault("server.port", 9001)
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.shutdown_wait", 10*time.Second)

	v.SetDefault("auth.hint_header", "X-Tide-Site")
	v.SetDefault("auth.enforce_origin", true)
	v.SetDefault("auth.verify_scheme", "http")
	v.SetDefault("auth.verify_path", "/api/method/frappe.auth.get_logged_user")
	v.SetDefault("auth.verify_timeout", 10*time.Second)

	v.SetDefault("app.prefix", "app")

	v.SetDefault("bus.driver", "redis")
	v.SetDefault("bus.global_channel", "events")
	v.SetDefault("bus.app_channel", "tide_events")
	v.SetDefault("bus.redis.addr", "127.0.0.1:6379")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.console", true)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("config: server.max_connections must be positive, got %d", c.Server.MaxConnections)
	}
	if c.Auth.VerifyTimeout <= 0 {
		return fmt.Errorf("config: auth.verify_timeout must be positive, got %v", c.Auth.VerifyTimeout)
	}
	if c.Auth.VerifyScheme != "http" && c.Auth.VerifyScheme != "https" {
		return fmt.Errorf("config: auth.verify_scheme must be http or https, got %q", c.Auth.VerifyScheme)
	}
	if c.App.Prefix == "" || strings.Contains(c.App.Prefix, "/") {
		return fmt.Errorf("config: app.prefix must be a single path segment, got %q", c.App.Prefix)
	}
	if c.Bus.GlobalChannel == "" || c.Bus.AppChannel == "" {
		return fmt.Errorf("config: bus channels must not be empty")
	}
	if c.Bus.GlobalChannel == c.Bus.AppChannel {
		return fmt.Errorf("config: bus.global_channel and bus.app_channel must differ")
	}
	return nil
}
