package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	UseLocalDB  bool
	DataDir     string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string

	// JWT配置
	JWTSecret string

	// 邀请配置
	AppBaseURL string
	InviteTTL  time.Duration

	// 邀请邮件队列（Redis Streams）
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InviteStream  string

	// 发送失败后的首次重试间隔，之后按次数翻倍
	MailerRetryDelay time.Duration

	// SMTP配置
	SMTPHostPort string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      bool

	// 日志配置
	LogLevel  string
	LogFormat string

	// CORS配置
	AllowedOrigins []string

	// 限流：每个IP每分钟请求数，0 表示关闭
	RateLimitPerMinute int

	// 调试配置
	Debug bool
}

// LoadConfig 加载配置（支持本地和Vercel环境）
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 按环境加载 .env 文件；已存在的环境变量优先
	switch env {
	case "production":
		_ = godotenv.Load(".env.production")
	default:
		_ = godotenv.Load(".env.local")
	}

	config := &Config{
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		Port:        getEnvWithDefault("PORT", "3000"),
		UseLocalDB:  getEnvBool("USE_LOCAL_DB", true),
		DataDir:     strings.TrimSpace(os.Getenv("DATA_DIR")),
		JWTSecret:   getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		Debug:       getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	config.SupabaseKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))

	config.AppBaseURL = strings.TrimRight(getEnvWithDefault("APP_BASE_URL", "http://localhost:3000"), "/")
	config.InviteTTL = time.Duration(getEnvInt("INVITE_TTL_HOURS", 7*24)) * time.Hour

	config.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")
	config.RedisDB = getEnvInt("REDIS_DB", 0)
	config.InviteStream = getEnvWithDefault("INVITE_STREAM", "kindred:invite-emails")
	config.MailerRetryDelay = time.Duration(getEnvInt("MAILER_RETRY_DELAY_SECONDS", 30)) * time.Second

	config.SMTPHostPort = strings.TrimSpace(os.Getenv("SMTP_HOST_PORT"))
	config.SMTPUser = strings.TrimSpace(os.Getenv("SMTP_USER"))
	config.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	config.SMTPFrom = getEnvWithDefault("SMTP_FROM", "Kindred Collective <no-reply@kindredcollective.co.uk>")
	config.SMTPTLS = getEnvBool("SMTP_TLS", false)

	config.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	config.LogFormat = getEnvWithDefault("LOG_FORMAT", "json")
	config.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 120)

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		config.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}

	// 生产环境强制使用外部数据库（PostgreSQL或Supabase）
	if config.Environment == "production" {
		if config.PostgresDSN != "" || (config.SupabaseURL != "" && config.SupabaseKey != "") {
			config.UseLocalDB = false
		}
		config.Debug = false
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless (Vercel), it initializes once per cold start and
// reuses it across warm invocations, avoiding per-request parsing.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.Environment == "production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	if c.InviteTTL <= 0 {
		return fmt.Errorf("INVITE_TTL_HOURS must be positive")
	}

	if c.IsProduction() && c.UseLocalDB {
		return fmt.Errorf("production requires POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
	}

	// 验证数据库配置
	if !c.UseLocalDB && c.PostgresDSN == "" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("incomplete database config: set POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
	}

	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DatabaseType names the backing store selected by the config.
func (c *Config) DatabaseType() string {
	switch {
	case c.PostgresDSN != "":
		return "postgresql"
	case c.SupabaseURL != "" && c.SupabaseKey != "":
		return "supabase"
	case c.UseLocalDB:
		return "local"
	}
	return "unknown"
}

// 辅助函数

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
