package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr   string        `env:"LISTEN_ADDR"    envDefault:":8080"`
	TriggerToken string        `env:"TRIGGER_TOKEN"`
	CycleTimeout time.Duration `env:"CYCLE_TIMEOUT"  envDefault:"10m"`
	CycleSpec    string        `env:"CYCLE_SPEC"`
	AppEnv       string        `env:"APP_ENV"        envDefault:"prod"`

	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`

	NeynarAPIKey  string `env:"NEYNAR_API_KEY,required,notEmpty"`
	NeynarAPIURL  string `env:"NEYNAR_API_URL" envDefault:"https://api.neynar.com"`
	HubAPIURL     string `env:"HUB_API_URL"    envDefault:"https://hub-api.neynar.com"`
	HubNetwork    int    `env:"HUB_NETWORK"    envDefault:"1"`
	ContentLimit  int    `env:"CONTENT_LIMIT"  envDefault:"5"`
	Concurrency   int    `env:"CONCURRENCY"    envDefault:"1"`
	FailureDBPath string `env:"FAILURE_DB_PATH"`

	StalenessCutoff  time.Duration `env:"STALENESS_CUTOFF"   envDefault:"1h"`
	LedgerRetention  time.Duration `env:"LEDGER_RETENTION"   envDefault:"24h"`
	FailureThreshold int           `env:"FAILURE_THRESHOLD"  envDefault:"3"`
	FailureReset     time.Duration `env:"FAILURE_RESET"      envDefault:"24h"`
	ActionInterval   time.Duration `env:"ACTION_INTERVAL"    envDefault:"500ms"`
	TargetInterval   time.Duration `env:"TARGET_INTERVAL"    envDefault:"1s"`
	AccountInterval  time.Duration `env:"ACCOUNT_INTERVAL"   envDefault:"1s"`

	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
	NatsURL        string `env:"NATS_URL"`
	OtelEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.LedgerRetention <= c.StalenessCutoff {
		errs = append(errs, fmt.Errorf(
			"LEDGER_RETENTION (%s) must exceed STALENESS_CUTOFF (%s)",
			c.LedgerRetention, c.StalenessCutoff,
		))
	}

	if c.ContentLimit <= 0 {
		errs = append(errs, errors.New("CONTENT_LIMIT must be positive"))
	}

	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("CONCURRENCY must be positive"))
	}

	if c.FailureThreshold <= 0 {
		errs = append(errs, errors.New("FAILURE_THRESHOLD must be positive"))
	}

	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required with TELEGRAM_TOKEN"))
	}

	return errors.Join(errs...)
}
