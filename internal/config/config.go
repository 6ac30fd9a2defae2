package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env          string             `mapstructure:"env"` // 环境: development, production
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	OpenFGA      OpenFGAConfig      `mapstructure:"openfga"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Log          LogConfig          `mapstructure:"log"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Notification NotificationConfig `mapstructure:"notification"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	App          AppConfig          `mapstructure:"app"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"` // sqlite 时为文件路径
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// JWTConfig 令牌配置
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// OpenFGAConfig OpenFGA 配置,api_url 为空时部门主管关系直接查数据库
type OpenFGAConfig struct {
	APIURL   string        `mapstructure:"api_url"`
	StoreID  string        `mapstructure:"store_id"`
	ModelID  string        `mapstructure:"model_id"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
	File   string `mapstructure:"file"`
}

// AuditConfig 审计日志读取配置
type AuditConfig struct {
	Window int `mapstructure:"window"` // 时间线最多返回的事件数
}

// WorkflowConfig 维修流程配置
type WorkflowConfig struct {
	AllowReturnAfterReject bool `mapstructure:"allow_return_after_reject"`
}

// NotificationConfig 通知 outbox 分发配置
type NotificationConfig struct {
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	Workers          int           `mapstructure:"workers"`
	Push             PushConfig    `mapstructure:"push"`
}

// PushConfig 推送通道配置
type PushConfig struct {
	Driver      string        `mapstructure:"driver"` // none, webhook, nats
	WebhookURL  string        `mapstructure:"webhook_url"`
	NATSURL     string        `mapstructure:"nats_url"`
	NATSSubject string        `mapstructure:"nats_subject"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// AppConfig 业务相关配置
type AppConfig struct {
	Timezone string `mapstructure:"timezone"`
	// PublicBaseURL 前端站点地址,公开链接为 <PublicBaseURL>/t/<token>,
	// 页面再调用 /api/public/t/<token> 取数据
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// Location 返回业务时区,无法解析时回退到 UTC
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load 加载配置,支持配置文件和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/repair-gin")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "repairs")
	v.SetDefault("database.sslmode", "disable")

	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600)
		v.SetDefault("database.conn_max_idle_time", 300)
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600)
		v.SetDefault("database.conn_max_idle_time", 600)
	}

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.issuer", "repair-gin")
	v.SetDefault("jwt.ttl", 7*24*time.Hour)

	v.SetDefault("openfga.api_url", "")
	v.SetDefault("openfga.store_id", "")
	v.SetDefault("openfga.model_id", "")
	v.SetDefault("openfga.cache_ttl", 30*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID", "Accept-Language"})
	v.SetDefault("cors.max_age", 86400)

	if env == "production" {
		v.SetDefault("log.level", "warn")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/repair-gin.log")

	v.SetDefault("audit.window", 200)

	v.SetDefault("workflow.allow_return_after_reject", true)

	v.SetDefault("notification.dispatch_interval", 2*time.Second)
	v.SetDefault("notification.batch_size", 50)
	v.SetDefault("notification.max_retries", 5)
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.push.driver", "none")
	v.SetDefault("notification.push.webhook_url", "")
	v.SetDefault("notification.push.nats_url", "nats://localhost:4222")
	v.SetDefault("notification.push.nats_subject", "repairs.push")
	v.SetDefault("notification.push.timeout", 10*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "repair-gin")

	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("app.timezone", "Africa/Cairo")
	v.SetDefault("app.public_base_url", "http://localhost:5173")
}
