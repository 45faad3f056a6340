package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var ErrMissing = errors.New("required configuration is missing")

type AppConfig struct {
	Campaign CampaignConfig

	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	SeedCorpus         string
	LogLevel           string
	ServiceName        string
	CoreCount          int
	StatsInterval      time.Duration
	TelemetryEnabled   bool
}

// CampaignConfig describes the target and workspace of a single campaign.
type CampaignConfig struct {
	Target    []string      // command template, may contain @@
	OutputDir string        // must not exist yet
	SeedPath  string        // substituted for @@, defaults to <output_dir>/.input
	Timeout   time.Duration // per execution
}

func LoadConfig() (*AppConfig, error) {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found")
	}

	config := &AppConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RedisUrl:           os.Getenv("REDIS_URL"),
		SeedCorpus:         os.Getenv("SEED_CORPUS"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		ServiceName:        os.Getenv("SERVICE_NAME"),
		CoreCount:          parseInt(os.Getenv("CORE_COUNT"), 4),
		StatsInterval:      parseDuration(os.Getenv("STATS_INTERVAL"), time.Minute),
		TelemetryEnabled:   parseBool(os.Getenv("TELEMETRY_ENABLED"), false),
	}

	if path := os.Getenv("CAMPAIGN_FILE"); path != "" {
		campaign, err := LoadCampaignFile(path)
		if err != nil {
			return nil, err
		}
		config.Campaign = *campaign
	}
	// environment overrides the campaign file
	if target := os.Getenv("TARGET"); target != "" {
		config.Campaign.Target = strings.Fields(target)
	}
	if out := os.Getenv("OUTPUT_DIR"); out != "" {
		config.Campaign.OutputDir = out
	}
	if seed := os.Getenv("SEED_PATH"); seed != "" {
		config.Campaign.SeedPath = seed
	}
	config.Campaign.Timeout = parseDuration(os.Getenv("EXEC_TIMEOUT"), config.Campaign.Timeout)

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "baeum" // Default service name
	}
	if config.Campaign.Timeout <= 0 {
		config.Campaign.Timeout = time.Second
	}
	if config.CoreCount < 1 {
		config.CoreCount = 1
	}

	if len(config.Campaign.Target) == 0 {
		return nil, fmt.Errorf("%w: TARGET (or target in the campaign file)", ErrMissing)
	}
	if config.Campaign.OutputDir == "" {
		return nil, fmt.Errorf("%w: OUTPUT_DIR (or output_dir in the campaign file)", ErrMissing)
	}

	return config, nil
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
