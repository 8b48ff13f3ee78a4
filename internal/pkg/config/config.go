package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var GlobalConfig *Config

// Config 全局配置
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Core         CoreConfig         `mapstructure:"core"`
	Build        BuildConfig        `mapstructure:"build"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Notification NotificationConfig `mapstructure:"notification"`
	DB           interface{}        // 数据库连接,运行时注入
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
	URL  string `mapstructure:"url"`  // 对外地址, 用于通知/签核链接
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	LogLevel        string `mapstructure:"log_level"`         // SQL日志级别: silent/error/warn/info
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// CoreConfig 发布引擎配置
type CoreConfig struct {
	ScanInterval string `mapstructure:"scan_interval"` // 发布扫描间隔, 默认10s
	SweepCron    string `mapstructure:"sweep_cron"`    // 服务器失联巡检表达式, 默认每分钟
}

// BuildConfig 构建执行器配置
type BuildConfig struct {
	Buildpack  string `mapstructure:"buildpack"`   // 外部构建脚本路径
	Workspace  string `mapstructure:"workspace"`   // 构建工作目录
	PackageDir string `mapstructure:"package_dir"` // 共享包归档目录
	Cooldown   string `mapstructure:"cooldown"`    // 同项目重复构建冷却窗口, 默认30m
}

// AgentConfig 部署代理(specter)配置
type AgentConfig struct {
	Port        int    `mapstructure:"port"`         // 代理端口, 默认2400
	AccessToken string `mapstructure:"access_token"` // 共享鉴权令牌
	SigningKey  string `mapstructure:"signing_key"`  // HMAC签名密钥
	Timeout     string `mapstructure:"timeout"`      // 单次调用超时
	DownloadURL string `mapstructure:"download_url"` // 包下载地址前缀
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`       // 是否启用
	Provider     string `mapstructure:"provider"`      // 通知渠道: slack/log
	SlackHost    string `mapstructure:"slack_host"`    // Slack 域名
	SlackToken   string `mapstructure:"slack_token"`   // incoming-webhook token
	SlackChannel string `mapstructure:"slack_channel"` // 默认频道
	Timeout      string `mapstructure:"timeout"`       // 发送超时
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 读取环境变量
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 设置全局配置
	GlobalConfig = config

	return config, nil
}

// GetDSN 获取数据库DSN
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// ParseDuration 解析时长配置, 解析失败返回默认值
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
