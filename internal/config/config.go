package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Redis    RedisConfig
	Session  SessionConfig
	Reclaim  ReclaimConfig
	Chain    ChainConfig
	AI       AIConfig
	Walrus   WalrusConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type NATSConfig struct {
	URL string
}

// RedisConfig — опциональное хранилище сессий; пустой Addr означает
// in-memory хранилище
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SessionConfig struct {
	TTL time.Duration
}

type ReclaimConfig struct {
	AppID      string
	AppSecret  string
	ProviderID string
	BaseURL    string
	APIURL     string
}

type ChainConfig struct {
	APIURL  string
	APIKey  string
	TxLimit int
}

type AIConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type WalrusConfig struct {
	PublisherURL  string
	AggregatorURL string
	Epochs        int
}

type LogConfig struct {
	Level string
	JSON  bool
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "humanproof")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", "0")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("RECLAIM_APP_ID", "")
	v.SetDefault("RECLAIM_APP_SECRET", "")
	v.SetDefault("RECLAIM_PROVIDER_ID", "")
	v.SetDefault("RECLAIM_BASE_URL", "http://localhost:8080")
	v.SetDefault("RECLAIM_API_URL", "https://api.reclaimprotocol.org")
	v.SetDefault("BLOCKVISION_API_URL", "https://api.blockvision.org")
	v.SetDefault("BLOCKVISION_API_KEY", "")
	v.SetDefault("BLOCKVISION_TX_LIMIT", "20")
	v.SetDefault("AI_API_URL", "")
	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_TIMEOUT", "10s")
	v.SetDefault("WALRUS_PUBLISHER_URL", "https://publisher.walrus-testnet.walrus.space")
	v.SetDefault("WALRUS_AGGREGATOR_URL", "https://aggregator.walrus-testnet.walrus.space")
	v.SetDefault("WALRUS_EPOCHS", "5")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", "false")

	serverPort, err := strconv.Atoi(v.GetString("SERVER_PORT"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(v.GetString("DATABASE_PORT"))
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_PORT: %w", err)
	}

	redisDB, err := strconv.Atoi(v.GetString("REDIS_DB"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	sessionTTL, err := time.ParseDuration(v.GetString("SESSION_TTL"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	txLimit, err := strconv.Atoi(v.GetString("BLOCKVISION_TX_LIMIT"))
	if err != nil {
		return nil, fmt.Errorf("invalid BLOCKVISION_TX_LIMIT: %w", err)
	}

	aiTimeout, err := time.ParseDuration(v.GetString("AI_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid AI_TIMEOUT: %w", err)
	}

	epochs, err := strconv.Atoi(v.GetString("WALRUS_EPOCHS"))
	if err != nil {
		return nil, fmt.Errorf("invalid WALRUS_EPOCHS: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: serverPort,
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     dbPort,
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			DBName:   v.GetString("DATABASE_DBNAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		NATS: NATSConfig{
			URL: v.GetString("NATS_URL"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Session: SessionConfig{
			TTL: sessionTTL,
		},
		Reclaim: ReclaimConfig{
			AppID:      v.GetString("RECLAIM_APP_ID"),
			AppSecret:  v.GetString("RECLAIM_APP_SECRET"),
			ProviderID: v.GetString("RECLAIM_PROVIDER_ID"),
			BaseURL:    v.GetString("RECLAIM_BASE_URL"),
			APIURL:     v.GetString("RECLAIM_API_URL"),
		},
		Chain: ChainConfig{
			APIURL:  v.GetString("BLOCKVISION_API_URL"),
			APIKey:  v.GetString("BLOCKVISION_API_KEY"),
			TxLimit: txLimit,
		},
		AI: AIConfig{
			APIURL:  v.GetString("AI_API_URL"),
			APIKey:  v.GetString("AI_API_KEY"),
			Model:   v.GetString("AI_MODEL"),
			Timeout: aiTimeout,
		},
		Walrus: WalrusConfig{
			PublisherURL:  v.GetString("WALRUS_PUBLISHER_URL"),
			AggregatorURL: v.GetString("WALRUS_AGGREGATOR_URL"),
			Epochs:        epochs,
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			JSON:  v.GetBool("LOG_JSON"),
		},
	}, nil
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.DBName, c.Database.SSLMode)
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
