package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource         string
	Port             string
	Env              string
	ProcessorBaseURL string
	ProcessorTimeout time.Duration
	KafkaBrokers     []string
	KafkaTopic       string
}

func Load() (*Config, error) {
	// Best effort: a missing .env just means the environment is already set.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	processorURL := os.Getenv("PROCESSOR_BASE_URL")
	if processorURL == "" {
		return nil, fmt.Errorf("PROCESSOR_BASE_URL environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	timeout := 30 * time.Second
	if raw := os.Getenv("PROCESSOR_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid PROCESSOR_TIMEOUT: %w", err)
		}
		timeout = d
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "reconciliation_events"
	}

	return &Config{
		DBSource:         dbSource,
		Port:             port,
		Env:              env,
		ProcessorBaseURL: processorURL,
		ProcessorTimeout: timeout,
		KafkaBrokers:     brokers,
		KafkaTopic:       topic,
	}, nil
}
