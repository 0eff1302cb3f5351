package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Channel layer backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendAWS    = "aws"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int32

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Channel layer: memory (single instance), redis or aws (SNS topic + per-instance SQS queue)
	ChannelBackend string

	// AWS Services
	AWSRegion   string
	AWSEndpoint string // LocalStack and friends
	SNSTopicARN string
	SQSQueueURL string

	// Auth
	JWTSecret    string
	ServiceToken string // shared secret for internal producer endpoints

	// Real-time sessions
	BacklogSize    int
	WSWriteTimeout time.Duration
	WSPingInterval time.Duration
	AllowedOrigins []string

	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "digitagro",
		DBPassword: "",
		DBName:     "digitagro",
		DBSSLMode:  "disable",
		DBMaxConns: 25,

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		ChannelBackend: BackendMemory,
		AWSRegion:      "us-east-1",

		BacklogSize:    20,
		WSWriteTimeout: 10 * time.Second,
		WSPingInterval: 30 * time.Second,

		RateLimitPerMinute: 120,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if maxConns := os.Getenv("DB_MAX_CONNS"); maxConns != "" {
		n, err := strconv.ParseInt(maxConns, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
		}
		cfg.DBMaxConns = int32(n)
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if backend := os.Getenv("CHANNEL_BACKEND"); backend != "" {
		cfg.ChannelBackend = strings.ToLower(backend)
	}
	switch cfg.ChannelBackend {
	case BackendMemory, BackendRedis, BackendAWS:
	default:
		return nil, fmt.Errorf("invalid CHANNEL_BACKEND %q: want memory, redis or aws", cfg.ChannelBackend)
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if endpoint := os.Getenv("AWS_ENDPOINT"); endpoint != "" {
		cfg.AWSEndpoint = endpoint
	}

	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		cfg.SNSTopicARN = arn
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if cfg.ChannelBackend == BackendAWS && (cfg.SNSTopicARN == "" || cfg.SQSQueueURL == "") {
		return nil, errors.New("CHANNEL_BACKEND=aws requires SNS_TOPIC_ARN and SQS_QUEUE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret"
	}

	cfg.ServiceToken = os.Getenv("SERVICE_TOKEN")

	if size := os.Getenv("BACKLOG_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKLOG_SIZE: %w", err)
		}
		cfg.BacklogSize = n
	}

	if timeout := os.Getenv("WS_WRITE_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
		}
		cfg.WSWriteTimeout = d
	}

	if interval := os.Getenv("WS_PING_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid WS_PING_INTERVAL: %w", err)
		}
		cfg.WSPingInterval = d
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if limit := os.Getenv("RATE_LIMIT_PER_MINUTE"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = n
	}

	return cfg, nil
}
