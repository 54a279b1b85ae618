package logger

// Format 日志格式
type Format string

const (
	// JSONFormat JSON 格式
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式
	ConsoleFormat Format = "console"
)

// Config 日志配置
type Config struct {
	Level   string        // 日志级别（debug/info/warn/error，默认 info）
	Format  Format        // 日志格式（json/console，默认 json）
	Console bool          // 是否输出到控制台
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则使用默认轮转）

	EnableCaller     bool // 是否记录调用位置
	EnableStacktrace bool // 是否记录堆栈（Error 及以上）
}

// RotateConfig 日志轮转配置
type RotateConfig struct {
	MaxSize    int  // 单文件最大 MB
	MaxBackups int  // 保留文件数
	MaxAge     int  // 保留天数
	Compress   bool // 是否压缩
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 未配置任何输出时默认输出到控制台
	if !c.Console && c.File == "" {
		c.Console = true
	}
}

// defaultRotateConfig 默认轮转配置
func defaultRotateConfig() *RotateConfig {
	return &RotateConfig{
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
	}
}
