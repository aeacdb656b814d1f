package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// 存储驱动
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// 身份认证模式
const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	Auth      AuthConfig
	Relay     RelayConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig 描述消息存储后端。
type StoreConfig struct {
	Driver        string
	SQLitePath    string
	PostgresDSN   string
	BadgerPath    string
	SeedUsers     []string
	AutoProvision bool
}

// AuthConfig 描述身份来源。
type AuthConfig struct {
	Mode       string
	JWTSecret  string
	JWTIssuer  string
	UserHeader string
}

// RelayConfig 描述 WebSocket 会话参数。
type RelayConfig struct {
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	ReadLimit      int64
	LiveTimestamps bool
}

// RedisConfig 描述跨实例广播。
type RedisConfig struct {
	URL           string
	ChannelPrefix string
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig 描述按客户端限流。
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Enabled 表示是否启用限流。
func (c RateLimitConfig) Enabled() bool {
	return c.RPS > 0
}

type environment struct {
	Port      string `env:"PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`

	StoreDriver   string `env:"STORE_DRIVER,default=sqlite" validate:"oneof=memory sqlite postgres badger"`
	SQLitePath    string `env:"SQLITE_PATH,default=pairchat.db" validate:"required_if=StoreDriver sqlite"`
	DatabaseURL   string `env:"DB_URL" validate:"required_if=StoreDriver postgres"`
	BadgerPath    string `env:"BADGER_PATH,default=data/badger"`
	SeedUsers     string `env:"SEED_USERS"`
	AutoProvision bool   `env:"AUTO_PROVISION_USERS,default=true"`

	AuthMode   string `env:"AUTH_MODE,default=jwt" validate:"oneof=jwt header"`
	JWTSecret  string `env:"AUTH_JWT_SECRET" validate:"required_if=AuthMode jwt"`
	JWTIssuer  string `env:"AUTH_JWT_ISSUER,default=pairchat"`
	UserHeader string `env:"AUTH_USER_HEADER,default=X-Remote-User" validate:"required_if=AuthMode header"`

	RedisURL           string `env:"REDIS_URL"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX,default=pairchat:room:"`

	SendBuffer     int           `env:"WS_SEND_BUFFER,default=64" validate:"gt=0"`
	PingInterval   time.Duration `env:"WS_PING_INTERVAL,default=54s" validate:"gte=0s"`
	PongWait       time.Duration `env:"WS_PONG_WAIT,default=0s" validate:"gte=0s"`
	ReadLimit      int64         `env:"WS_READ_LIMIT,default=65536" validate:"gt=0"`
	LiveTimestamps bool          `env:"RELAY_LIVE_TIMESTAMPS,default=false"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=40"`
	CORSOrigins    string  `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

var validate = validator.New()

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var e environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	server, err := loadServerConfig(e.Port)
	if err != nil {
		return nil, err
	}
	server.CORSOrigins = splitList(e.CORSOrigins)

	return &Config{
		Server: server,
		Log:    LogConfig{Level: e.LogLevel, Format: e.LogFormat},
		Store: StoreConfig{
			Driver:        e.StoreDriver,
			SQLitePath:    e.SQLitePath,
			PostgresDSN:   e.DatabaseURL,
			BadgerPath:    e.BadgerPath,
			SeedUsers:     splitList(e.SeedUsers),
			AutoProvision: e.AutoProvision,
		},
		Auth: AuthConfig{
			Mode:       e.AuthMode,
			JWTSecret:  e.JWTSecret,
			JWTIssuer:  e.JWTIssuer,
			UserHeader: e.UserHeader,
		},
		Relay: RelayConfig{
			SendBuffer:     e.SendBuffer,
			PingInterval:   e.PingInterval,
			PongWait:       e.PongWait,
			ReadLimit:      e.ReadLimit,
			LiveTimestamps: e.LiveTimestamps,
		},
		Redis: RedisConfig{
			URL:           strings.TrimSpace(e.RedisURL),
			ChannelPrefix: e.RedisChannelPrefix,
		},
		RateLimit: RateLimitConfig{
			RPS:   e.RateLimitRPS,
			Burst: e.RateLimitBurst,
		},
	}, nil
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(port string) (ServerConfig, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
