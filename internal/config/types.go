package config

import "time"

type Config struct {
	Timezone       string `validate:"required"`
	Bots           BotsConfig
	Oracle         OracleConfig
	Store          StoreConfig
	Storage        StorageConfig
	Intake         IntakeConfig
	Review         ReviewConfig
	WebhookURL     string `validate:"omitempty,url"`
	PromptsFile    string
	MetricsAddr    string
	OperatorChatID int64
}

type BotsConfig struct {
	TelegramToken string `validate:"required_without=DiscordToken"`
	DiscordToken  string
}

type OracleConfig struct {
	Provider    string `validate:"required"`
	APIKey      string
	Model       string
	BaseURL     string `validate:"omitempty,url"`
	MaxTokens   int    `validate:"gt=0"`
	MaxAttempts int    `validate:"min=1,max=10"`
	RetryDelay  time.Duration
	RateLimit   float64 `validate:"gte=0"`
}

type StoreConfig struct {
	Driver        string `validate:"oneof=mongo sqlite"`
	MongoURI      string `validate:"required_if=Driver mongo"`
	MongoDatabase string `validate:"required_if=Driver mongo"`
	SQLitePath    string `validate:"required_if=Driver sqlite"`
}

type StorageConfig struct {
	Enabled    bool
	Endpoint   string `validate:"required_if=Enabled true"`
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Bucket     string        `validate:"required"`
	PresignTTL time.Duration `validate:"gt=0"`
}

type IntakeConfig struct {
	AcceptThreshold     int
	ContextWindow       int     `validate:"gt=0"`
	SimilarityThreshold float64 `validate:"gt=0,lte=1"`
}

type ReviewConfig struct {
	Schedule    string `validate:"required"`
	Window      int    `validate:"gt=0"`
	Concurrency int    `validate:"gt=0"`
}
