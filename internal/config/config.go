// Package config loads the service configuration. Sources are applied in
// increasing priority: built-in defaults, the JSON file named by CONFIG,
// environment variables (a .env file is loaded first) and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	RunAddr             string        `env:"SERVER_ADDRESS" json:"server_address" validate:"hostname_port"`
	AppURL              string        `env:"APP_URL" json:"app_url" validate:"url"`
	LogLevel            string        `env:"LOG_LEVEL" json:"log_level" validate:"loglevel"`
	DatabaseDSN         string        `env:"DATABASE_DSN" json:"database_dsn"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" json:"db_connection_timeout"`
	MigrationsDir       string        `env:"MIGRATIONS_DIR" json:"migrations_dir"`
	MemorySeedFile      string        `env:"MEMORY_SEED_FILE" json:"memory_seed_file" validate:"omitempty,file"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY" json:"openai_api_key"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" json:"openai_base_url" validate:"omitempty,url"`
	OpenAIModel   string `env:"OPENAI_MODEL" json:"openai_model"`

	InstagramGraphURL  string  `env:"INSTAGRAM_GRAPH_URL" json:"instagram_graph_url" validate:"url"`
	InstagramRateLimit float64 `env:"INSTAGRAM_RATE_LIMIT" json:"instagram_rate_limit" validate:"gte=0"`
	TokenEncryptionKey string  `env:"TOKEN_ENCRYPTION_KEY" json:"token_encryption_key"`

	LemonWebhookSecret        string `env:"LEMON_WEBHOOK_SECRET" json:"lemon_webhook_secret"`
	LemonEnterpriseProductIDs []int  `env:"LEMON_ENTERPRISE_PRODUCT_IDS" envSeparator:"," json:"lemon_enterprise_product_ids"`
	LemonAgencyProductIDs     []int  `env:"LEMON_AGENCY_PRODUCT_IDS" envSeparator:"," json:"lemon_agency_product_ids"`
	LemonTeamProductIDs       []int  `env:"LEMON_TEAM_PRODUCT_IDS" envSeparator:"," json:"lemon_team_product_ids"`
	LemonIndividualProductIDs []int  `env:"LEMON_INDIVIDUAL_PRODUCT_IDS" envSeparator:"," json:"lemon_individual_product_ids"`

	DiscordWebhook     string `env:"DISCORD_WEBHOOK" json:"discord_webhook" validate:"omitempty,url"`
	TeamDiscordWebhook string `env:"TEAM_DISCORD_WEBHOOK" json:"team_discord_webhook" validate:"omitempty,url"`
	BrevoAPIKey        string `env:"BREVO_API_KEY" json:"brevo_api_key"`
	BrevoBaseURL       string `env:"BREVO_BASE_URL" json:"brevo_base_url" validate:"url"`
	MailAPIKey         string `env:"MAIL_API_KEY" json:"mail_api_key"`
	MailAPIURL         string `env:"MAIL_API_URL" json:"mail_api_url" validate:"omitempty,url"`
	MailFrom           string `env:"MAIL_FROM" json:"mail_from" validate:"omitempty,email"`

	TrustedSubnets     []string `env:"TRUSTED_SUBNET" envSeparator:"," json:"trusted_subnets" validate:"dive,cidr"`
	OperatorSigningKey string `env:"OPERATOR_SIGNING_KEY" json:"operator_signing_key"`

	DMSweepSchedule            string `env:"DM_SWEEP_SCHEDULE" json:"dm_sweep_schedule" validate:"omitempty,cron"`
	SubscriptionExpirySchedule string `env:"SUBSCRIPTION_EXPIRY_SCHEDULE" json:"subscription_expiry_schedule" validate:"omitempty,cron"`

	UsageFlushInterval time.Duration `env:"USAGE_FLUSH_INTERVAL" json:"usage_flush_interval" validate:"gt=0"`
	UsageQueueCapacity int           `env:"USAGE_QUEUE_CAPACITY" json:"usage_queue_capacity" validate:"gt=0"`
	OutboundTimeout    time.Duration `env:"OUTBOUND_TIMEOUT" json:"outbound_timeout" validate:"gt=0"`
}

var defaultConfig = Config{
	RunAddr:                   ":8080",
	AppURL:                    "http://localhost:3000",
	LogLevel:                  "info",
	DBConnectionTimeout:       10 * time.Second,
	MigrationsDir:             "cmd/olly/migrations",
	OpenAIModel:               "gpt-4o-mini",
	InstagramGraphURL:         "https://graph.instagram.com",
	InstagramRateLimit:        5,
	LemonEnterpriseProductIDs: []int{363041, 363064},
	LemonAgencyProductIDs:     []int{363063, 321751},
	LemonTeamProductIDs:       []int{363062, 363040},
	LemonIndividualProductIDs: []int{328561, 285937},
	BrevoBaseURL:              "https://api.brevo.com/v3",
	MailFrom:                  "yash@olly.social",
	UsageFlushInterval:        5 * time.Second,
	UsageQueueCapacity:        1024,
	OutboundTimeout:           30 * time.Second,
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[fieldLevel.Field().String()]
}

func validateCron(fieldLevel validator.FieldLevel) bool {
	_, err := ParseSchedule(fieldLevel.Field().String())

	return err == nil
}

func (c *Config) validate() error {
	validate := validator.New()

	validations := map[string]validator.Func{
		"loglevel": validateLogLevel,
		"cron":     validateCron,
	}
	for tag, fn := range validations {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}

	return validate.Struct(c)
}

// ParseSchedule accepts standard five-field expressions and descriptors
// such as @hourly.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return cron.ParseStandard(schedule)
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// applyDefaults copies every zero field of values from defaults.
func applyDefaults(values *Config, defaults Config) {
	target := reflect.ValueOf(values).Elem()
	source := reflect.ValueOf(defaults)
	for i := 0; i < target.NumField(); i++ {
		if target.Field(i).IsZero() {
			target.Field(i).Set(source.Field(i))
		}
	}
}

// overrideWith copies every non-zero field of source into values.
func overrideWith(values *Config, source Config) {
	target := reflect.ValueOf(values).Elem()
	from := reflect.ValueOf(source)
	for i := 0; i < target.NumField(); i++ {
		if !from.Field(i).IsZero() {
			target.Field(i).Set(from.Field(i))
		}
	}
}

func loadJSONFile(fileName string) (Config, error) {
	var values Config

	data, err := os.ReadFile(fileName)
	if err != nil {
		return values, fmt.Errorf("in internal/config/config.go/loadJSONFile(): error while `os.ReadFile()` calling: %w", err)
	}

	if err := json.Unmarshal(data, &values); err != nil {
		return values, fmt.Errorf("in internal/config/config.go/loadJSONFile(): error while `json.Unmarshal()` calling: %w", err)
	}

	return values, nil
}

func parseFlags(values *Config) error {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	flags.StringVar(&values.RunAddr, "a", values.RunAddr, "address and port to run server")
	flags.StringVar(&values.AppURL, "u", values.AppURL, "public URL of the web application")
	flags.StringVar(&values.LogLevel, "l", values.LogLevel, "logger level")
	flags.StringVar(&values.DatabaseDSN, "d", values.DatabaseDSN, "a string with the database connection details")
	flags.StringVar(&values.MemorySeedFile, "s", values.MemorySeedFile, "JSON file seeding the in-memory storage")
	flags.StringVar(&values.DMSweepSchedule, "dm-schedule", values.DMSweepSchedule, "cron schedule of the Instagram DM sweep")

	return flags.Parse(os.Args[1:])
}

func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Unable to load .env file: %v", err)
	}

	values := &Config{}

	if fileName := os.Getenv("CONFIG"); fileName != "" {
		fromFile, err := loadJSONFile(fileName)
		if err != nil {
			return nil, err
		}
		*values = fromFile
	}

	applyDefaults(values, defaultConfig)

	var valuesFromEnv Config
	if err := env.Parse(&valuesFromEnv); err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}
	overrideWith(values, valuesFromEnv)

	if !options.disableFlagsParsing {
		if err := parseFlags(values); err != nil {
			return nil, fmt.Errorf("in internal/config/config.go/New(): error while `parseFlags()` calling: %w", err)
		}
	}

	values.AppURL = strings.TrimRight(values.AppURL, "/")

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}
