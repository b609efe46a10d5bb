package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

// defaultTestConfig — конфигурация, которую Load возвращает на чистом
// окружении
func defaultTestConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "humanproof",
			SSLMode:  "disable",
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Redis: RedisConfig{},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Reclaim: ReclaimConfig{
			BaseURL: "http://localhost:8080",
			APIURL:  "https://api.reclaimprotocol.org",
		},
		Chain: ChainConfig{
			APIURL:  "https://api.blockvision.org",
			TxLimit: 20,
		},
		AI: AIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 10 * time.Second,
		},
		Walrus: WalrusConfig{
			PublisherURL:  "https://publisher.walrus-testnet.walrus.space",
			AggregatorURL: "https://aggregator.walrus-testnet.walrus.space",
			Epochs:        5,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

func TestLoad(t *testing.T) {
	// Сохраняем оригинальные переменные окружения
	originalEnvVars := make(map[string]string)
	envVarsToTest := []string{
		"SERVER_HOST", "SERVER_PORT", "DATABASE_HOST", "DATABASE_PORT",
		"DATABASE_USER", "DATABASE_PASSWORD", "DATABASE_DBNAME", "DATABASE_SSLMODE",
		"NATS_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "SESSION_TTL",
		"RECLAIM_APP_ID", "RECLAIM_APP_SECRET", "RECLAIM_PROVIDER_ID",
		"RECLAIM_BASE_URL", "RECLAIM_API_URL",
		"BLOCKVISION_API_URL", "BLOCKVISION_API_KEY", "BLOCKVISION_TX_LIMIT",
		"AI_API_URL", "AI_API_KEY", "AI_MODEL", "AI_TIMEOUT",
		"WALRUS_PUBLISHER_URL", "WALRUS_AGGREGATOR_URL", "WALRUS_EPOCHS",
		"LOG_LEVEL", "LOG_JSON",
	}

	for _, envVar := range envVarsToTest {
		originalEnvVars[envVar] = os.Getenv(envVar)
	}

	// Очищаем переменные окружения для чистого теста
	defer func() {
		for envVar, originalValue := range originalEnvVars {
			if originalValue == "" {
				os.Unsetenv(envVar)
			} else {
				os.Setenv(envVar, originalValue)
			}
		}
	}()

	tests := []struct {
		name    string
		envVars map[string]string
		// modify правит копию дефолтной конфигурации под ожидания кейса
		modify func(c *Config)
	}{
		{
			name:    "default_values",
			envVars: map[string]string{},
		},
		{
			name: "custom_server_config",
			envVars: map[string]string{
				"SERVER_HOST": "127.0.0.1",
				"SERVER_PORT": "9090",
			},
			modify: func(c *Config) {
				c.Server = ServerConfig{Host: "127.0.0.1", Port: 9090}
			},
		},
		{
			name: "custom_database_config",
			envVars: map[string]string{
				"DATABASE_HOST":     "db.example.com",
				"DATABASE_PORT":     "5433",
				"DATABASE_USER":     "testuser",
				"DATABASE_PASSWORD": "testpass",
				"DATABASE_DBNAME":   "testdb",
				"DATABASE_SSLMODE":  "require",
			},
			modify: func(c *Config) {
				c.Database = DatabaseConfig{
					Host:     "db.example.com",
					Port:     5433,
					User:     "testuser",
					Password: "testpass",
					DBName:   "testdb",
					SSLMode:  "require",
				}
			},
		},
		{
			name: "custom_nats_config",
			envVars: map[string]string{
				"NATS_URL": "nats://nats.example.com:4222",
			},
			modify: func(c *Config) {
				c.NATS.URL = "nats://nats.example.com:4222"
			},
		},
		{
			name: "custom_redis_and_session_config",
			envVars: map[string]string{
				"REDIS_ADDR":     "redis.example.com:6379",
				"REDIS_PASSWORD": "secret",
				"REDIS_DB":       "3",
				"SESSION_TTL":    "45m",
			},
			modify: func(c *Config) {
				c.Redis = RedisConfig{Addr: "redis.example.com:6379", Password: "secret", DB: 3}
				c.Session.TTL = 45 * time.Minute
			},
		},
		{
			name: "custom_reclaim_config",
			envVars: map[string]string{
				"RECLAIM_APP_ID":      "app-1",
				"RECLAIM_APP_SECRET":  "0xsecret",
				"RECLAIM_PROVIDER_ID": "provider-1",
				"RECLAIM_BASE_URL":    "https://gateway.example.com",
				"RECLAIM_API_URL":     "https://reclaim.example.com",
			},
			modify: func(c *Config) {
				c.Reclaim = ReclaimConfig{
					AppID:      "app-1",
					AppSecret:  "0xsecret",
					ProviderID: "provider-1",
					BaseURL:    "https://gateway.example.com",
					APIURL:     "https://reclaim.example.com",
				}
			},
		},
		{
			name: "custom_chain_config",
			envVars: map[string]string{
				"BLOCKVISION_API_URL":  "https://chain.example.com",
				"BLOCKVISION_API_KEY":  "bv-key",
				"BLOCKVISION_TX_LIMIT": "50",
			},
			modify: func(c *Config) {
				c.Chain = ChainConfig{APIURL: "https://chain.example.com", APIKey: "bv-key", TxLimit: 50}
			},
		},
		{
			name: "custom_ai_config",
			envVars: map[string]string{
				"AI_API_URL": "https://ai.example.com/v1/chat/completions",
				"AI_API_KEY": "ai-key",
				"AI_MODEL":   "gpt-4o",
				"AI_TIMEOUT": "30s",
			},
			modify: func(c *Config) {
				c.AI = AIConfig{
					APIURL:  "https://ai.example.com/v1/chat/completions",
					APIKey:  "ai-key",
					Model:   "gpt-4o",
					Timeout: 30 * time.Second,
				}
			},
		},
		{
			name: "custom_walrus_config",
			envVars: map[string]string{
				"WALRUS_PUBLISHER_URL":  "https://publisher.example.com",
				"WALRUS_AGGREGATOR_URL": "https://aggregator.example.com",
				"WALRUS_EPOCHS":         "10",
			},
			modify: func(c *Config) {
				c.Walrus = WalrusConfig{
					PublisherURL:  "https://publisher.example.com",
					AggregatorURL: "https://aggregator.example.com",
					Epochs:        10,
				}
			},
		},
		{
			name: "custom_log_config",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
				"LOG_JSON":  "true",
			},
			modify: func(c *Config) {
				c.Log = LogConfig{Level: "debug", JSON: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Очищаем все переменные окружения
			for _, envVar := range envVarsToTest {
				os.Unsetenv(envVar)
			}

			// Устанавливаем переменные окружения для теста
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			config, err := Load()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if config == nil {
				t.Error("expected config, but got nil")
				return
			}

			expected := defaultTestConfig()
			if tt.modify != nil {
				tt.modify(expected)
			}

			if !reflect.DeepEqual(config, expected) {
				t.Errorf("expected config %+v, but got %+v", expected, config)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectedDSN string
	}{
		{
			name: "default_config",
			config: &Config{
				Database: DatabaseConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "postgres",
					Password: "postgres",
					DBName:   "humanproof",
					SSLMode:  "disable",
				},
			},
			expectedDSN: "host=localhost port=5432 user=postgres password=postgres dbname=humanproof sslmode=disable",
		},
		{
			name: "custom_config",
			config: &Config{
				Database: DatabaseConfig{
					Host:     "db.example.com",
					Port:     5433,
					User:     "testuser",
					Password: "testpass",
					DBName:   "testdb",
					SSLMode:  "require",
				},
			},
			expectedDSN: "host=db.example.com port=5433 user=testuser password=testpass dbname=testdb sslmode=require",
		},
		{
			name: "special_characters_in_password",
			config: &Config{
				Database: DatabaseConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "user@domain",
					Password: "pass@word#123",
					DBName:   "humanproof",
					SSLMode:  "disable",
				},
			},
			expectedDSN: "host=localhost port=5432 user=user@domain password=pass@word#123 dbname=humanproof sslmode=disable",
		},
		{
			name: "empty_password",
			config: &Config{
				Database: DatabaseConfig{
					Host:     "localhost",
					Port:     5432,
					User:     "postgres",
					Password: "",
					DBName:   "humanproof",
					SSLMode:  "disable",
				},
			},
			expectedDSN: "host=localhost port=5432 user=postgres password= dbname=humanproof sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.config.DatabaseDSN()
			if dsn != tt.expectedDSN {
				t.Errorf("expected DSN '%s', but got '%s'", tt.expectedDSN, dsn)
			}
		})
	}
}

func TestInvalidPortConfiguration(t *testing.T) {
	// Сохраняем оригинальные переменные окружения
	originalServerPort := os.Getenv("SERVER_PORT")
	originalDatabasePort := os.Getenv("DATABASE_PORT")

	defer func() {
		if originalServerPort == "" {
			os.Unsetenv("SERVER_PORT")
		} else {
			os.Setenv("SERVER_PORT", originalServerPort)
		}
		if originalDatabasePort == "" {
			os.Unsetenv("DATABASE_PORT")
		} else {
			os.Setenv("DATABASE_PORT", originalDatabasePort)
		}
	}()

	tests := []struct {
		name    string
		envVars map[string]string
	}{
		{
			name: "invalid_server_port",
			envVars: map[string]string{
				"SERVER_PORT": "invalid",
			},
		},
		{
			name: "invalid_database_port",
			envVars: map[string]string{
				"DATABASE_PORT": "not_a_number",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Очищаем переменные окружения
			os.Unsetenv("SERVER_PORT")
			os.Unsetenv("DATABASE_PORT")

			// Устанавливаем переменные окружения для теста
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			_, err := Load()

			// Ожидаем ошибку при невалидных портах
			if err == nil {
				t.Error("expected error for invalid port configuration, but got nil")
			}
		})
	}
}

func TestBooleanConfiguration(t *testing.T) {
	// Сохраняем оригинальную переменную окружения
	originalLogJSON := os.Getenv("LOG_JSON")

	defer func() {
		if originalLogJSON == "" {
			os.Unsetenv("LOG_JSON")
		} else {
			os.Setenv("LOG_JSON", originalLogJSON)
		}
	}()

	tests := []struct {
		name         string
		logJSONValue string
		expectedJSON bool
	}{
		{
			name:         "true_value",
			logJSONValue: "true",
			expectedJSON: true,
		},
		{
			name:         "false_value",
			logJSONValue: "false",
			expectedJSON: false,
		},
		{
			name:         "1_value",
			logJSONValue: "1",
			expectedJSON: true,
		},
		{
			name:         "0_value",
			logJSONValue: "0",
			expectedJSON: false,
		},
		{
			name:         "empty_value",
			logJSONValue: "",
			expectedJSON: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.logJSONValue == "" {
				os.Unsetenv("LOG_JSON")
			} else {
				os.Setenv("LOG_JSON", tt.logJSONValue)
			}

			config, err := Load()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if config.Log.JSON != tt.expectedJSON {
				t.Errorf("expected log JSON %t, but got %t", tt.expectedJSON, config.Log.JSON)
			}
		})
	}
}

func TestDurationConfiguration(t *testing.T) {
	originalSessionTTL := os.Getenv("SESSION_TTL")
	originalAITimeout := os.Getenv("AI_TIMEOUT")

	defer func() {
		if originalSessionTTL == "" {
			os.Unsetenv("SESSION_TTL")
		} else {
			os.Setenv("SESSION_TTL", originalSessionTTL)
		}
		if originalAITimeout == "" {
			os.Unsetenv("AI_TIMEOUT")
		} else {
			os.Setenv("AI_TIMEOUT", originalAITimeout)
		}
	}()

	tests := []struct {
		name          string
		envVars       map[string]string
		expectedError bool
		expectedTTL   time.Duration
	}{
		{
			name:          "default_durations",
			envVars:       map[string]string{},
			expectedError: false,
			expectedTTL:   24 * time.Hour,
		},
		{
			name: "custom_session_ttl",
			envVars: map[string]string{
				"SESSION_TTL": "30m",
			},
			expectedError: false,
			expectedTTL:   30 * time.Minute,
		},
		{
			name: "invalid_session_ttl",
			envVars: map[string]string{
				"SESSION_TTL": "not_a_duration",
			},
			expectedError: true,
		},
		{
			name: "invalid_ai_timeout",
			envVars: map[string]string{
				"AI_TIMEOUT": "ten seconds",
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("SESSION_TTL")
			os.Unsetenv("AI_TIMEOUT")

			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			config, err := Load()

			if tt.expectedError {
				if err == nil {
					t.Error("expected error for invalid duration configuration, but got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if config.Session.TTL != tt.expectedTTL {
				t.Errorf("expected session TTL %v, but got %v", tt.expectedTTL, config.Session.TTL)
			}
		})
	}
}

func TestWalrusDefaults(t *testing.T) {
	config, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.Walrus.Epochs != 5 {
		t.Errorf("expected 5 storage epochs, but got %d", config.Walrus.Epochs)
	}
	if config.Walrus.PublisherURL == "" || config.Walrus.AggregatorURL == "" {
		t.Error("expected walrus publisher and aggregator defaults to be set")
	}
	if config.Chain.TxLimit != 20 {
		t.Errorf("expected tx limit 20, but got %d", config.Chain.TxLimit)
	}
}
