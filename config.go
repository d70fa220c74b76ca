package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	DescriberOpenAI = "openai"
	DescriberGemini = "gemini"
	DescriberNone   = "none"
)

type Config struct {
	Host string `mapstructure:"APP_HOST"`
	Port int    `mapstructure:"APP_PORT" validate:"required,gte=1,lte=65535"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`

	SecretKey         string        `mapstructure:"SECRET_KEY" validate:"required"`
	AccessTokenExpire time.Duration `mapstructure:"ACCESS_TOKEN_EXPIRE" validate:"gt=0"`
	BcryptCost        int           `mapstructure:"BCRYPT_COST" validate:"gte=4,lte=31"`

	AWSAccessKeyID     string        `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string        `mapstructure:"AWS_SECRET_ACCESS_KEY" validate:"required_with=AWSAccessKeyID"`
	AWSRegion          string        `mapstructure:"AWS_REGION" validate:"required"`
	S3Bucket           string        `mapstructure:"S3_BUCKET_NAME" validate:"required"`
	S3Endpoint         string        `mapstructure:"S3_ENDPOINT" validate:"omitempty,url"`
	PresignTTL         time.Duration `mapstructure:"PRESIGN_TTL" validate:"gt=0"`

	DescriberProvider    string `mapstructure:"DESCRIBER_PROVIDER" validate:"oneof=openai gemini none"`
	OpenAIAPIKey         string `mapstructure:"OPENAI_API_KEY" validate:"required_if=DescriberProvider openai"`
	OpenAIModel          string `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL        string `mapstructure:"OPENAI_BASE_URL" validate:"omitempty,url"`
	GeminiAPIKey         string `mapstructure:"GEMINI_API_KEY" validate:"required_if=DescriberProvider gemini"`
	GeminiModel          string `mapstructure:"GEMINI_MODEL"`
	DescriptionMaxTokens int    `mapstructure:"DESCRIPTION_MAX_TOKENS" validate:"gt=0"`

	MaxUploadSize   int64         `mapstructure:"MAX_UPLOAD_SIZE" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	LogLevel        string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

var configDefaults = map[string]any{
	"APP_HOST":               "0.0.0.0",
	"APP_PORT":               8002,
	"DATABASE_URL":           "",
	"SECRET_KEY":             "",
	"ACCESS_TOKEN_EXPIRE":    30 * time.Minute,
	"BCRYPT_COST":            bcrypt.DefaultCost,
	"AWS_ACCESS_KEY_ID":      "",
	"AWS_SECRET_ACCESS_KEY":  "",
	"AWS_REGION":             "eu-north-1",
	"S3_BUCKET_NAME":         "",
	"S3_ENDPOINT":            "",
	"PRESIGN_TTL":            time.Hour,
	"DESCRIBER_PROVIDER":     DescriberOpenAI,
	"OPENAI_API_KEY":         "",
	"OPENAI_MODEL":           "gpt-4o-mini",
	"OPENAI_BASE_URL":        "",
	"GEMINI_API_KEY":         "",
	"GEMINI_MODEL":           "gemini-2.0-flash",
	"DESCRIPTION_MAX_TOKENS": 300,
	"MAX_UPLOAD_SIZE":        MaxImageSize,
	"CORS_ORIGINS":           []string{"*"},
	"LOG_LEVEL":              "info",
	"SHUTDOWN_TIMEOUT":       10 * time.Second,
}

// LoadConfig reads the process environment, optionally seeded from envFile.
// A missing envFile is not an error.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
