package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

func Load() (*Config, error) {
	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	oracleConfig, err := loadOracleConfig()
	if err != nil {
		return nil, err
	}

	storeConfig := loadStoreConfig()
	storageConfig := loadStorageConfig()

	intakeConfig, err := loadIntakeConfig()
	if err != nil {
		return nil, err
	}

	reviewConfig, err := loadReviewConfig()
	if err != nil {
		return nil, err
	}

	var operatorChat int64
	if raw := os.Getenv("OPERATOR_CHAT_ID"); raw != "" {
		if operatorChat, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("OPERATOR_CHAT_ID: %w", err)
		}
	}

	cfg := &Config{
		Timezone:       timezone,
		Bots:           loadBotsConfig(),
		Oracle:         oracleConfig,
		Store:          storeConfig,
		Storage:        storageConfig,
		Intake:         intakeConfig,
		Review:         reviewConfig,
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		PromptsFile:    os.Getenv("PROMPTS_FILE"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		OperatorChatID: operatorChat,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func loadBotsConfig() BotsConfig {
	return BotsConfig{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
	}
}

func loadOracleConfig() (OracleConfig, error) {
	provider := os.Getenv("ORACLE_PROVIDER")
	if provider == "" {
		provider = "openrouter"
	}

	apiKey, err := getAPIKey(provider)
	if err != nil {
		return OracleConfig{}, err
	}

	maxTokens, err := envInt("ORACLE_MAX_TOKENS", 3000)
	if err != nil {
		return OracleConfig{}, err
	}

	maxAttempts, err := envInt("ORACLE_MAX_ATTEMPTS", 3)
	if err != nil {
		return OracleConfig{}, err
	}

	retryDelay, err := envDuration("ORACLE_RETRY_DELAY", time.Second)
	if err != nil {
		return OracleConfig{}, err
	}

	rateLimit, err := envFloat("ORACLE_RATE_LIMIT", 1)
	if err != nil {
		return OracleConfig{}, err
	}

	return OracleConfig{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       os.Getenv("ORACLE_MODEL"),
		BaseURL:     os.Getenv("ORACLE_BASE_URL"),
		MaxTokens:   maxTokens,
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		RateLimit:   rateLimit,
	}, nil
}

func loadStoreConfig() StoreConfig {
	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		driver = "mongo"
		if os.Getenv("MONGO_URI") == "" {
			driver = "sqlite"
		}
	}

	database := os.Getenv("MONGO_DATABASE")
	if database == "" {
		database = "habit"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "tally.db"
	}

	return StoreConfig{
		Driver:        driver,
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: database,
		SQLitePath:    sqlitePath,
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "habit"
	}

	ttl, err := envDuration("PRESIGN_TTL", time.Hour)
	if err != nil || ttl <= 0 {
		ttl = time.Hour
	}

	return StorageConfig{
		Enabled:    accessKey != "" && secretKey != "",
		Endpoint:   endpoint,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		UseSSL:     os.Getenv("MINIO_USE_SSL") != "false",
		Bucket:     bucket,
		PresignTTL: ttl,
	}
}

func loadIntakeConfig() (IntakeConfig, error) {
	threshold, err := envInt("ACCEPT_THRESHOLD", -10)
	if err != nil {
		return IntakeConfig{}, err
	}

	window, err := envInt("CONTEXT_WINDOW", 20)
	if err != nil {
		return IntakeConfig{}, err
	}

	similarity, err := envFloat("SIMILARITY_THRESHOLD", 0.8)
	if err != nil {
		return IntakeConfig{}, err
	}

	return IntakeConfig{
		AcceptThreshold:     threshold,
		ContextWindow:       window,
		SimilarityThreshold: similarity,
	}, nil
}

func loadReviewConfig() (ReviewConfig, error) {
	schedule := os.Getenv("REVIEW_SCHEDULE")
	if schedule == "" {
		schedule = "@every 3h"
	}

	window, err := envInt("REVIEW_WINDOW", 20)
	if err != nil {
		return ReviewConfig{}, err
	}

	concurrency, err := envInt("REVIEW_CONCURRENCY", 4)
	if err != nil {
		return ReviewConfig{}, err
	}

	return ReviewConfig{
		Schedule:    schedule,
		Window:      window,
		Concurrency: concurrency,
	}, nil
}

func getAPIKey(provider string) (string, error) {
	if key := os.Getenv("ORACLE_API_KEY"); key != "" {
		return key, nil
	}

	var envKey string
	switch provider {
	case "ollama":
		// Ollama doesn't need an API key
		return "ollama", nil
	case "claude":
		envKey = "ANTHROPIC_API_KEY"
	default:
		envKey = strings.ToUpper(provider) + "_API_KEY"
	}

	key := os.Getenv(envKey)
	if key == "" {
		return "", fmt.Errorf("%s not set (or set ORACLE_API_KEY)", envKey)
	}
	return key, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
