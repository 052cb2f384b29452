package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env           string `env:"ENV,default=dev"`
	DataDirectory string `env:"DATA_DIR,default=."`
	Server        struct {
		Addr        string `env:"SERVER_ADDR,default=:8080"`
		MetricsAddr string `env:"METRICS_ADDR,default=:8081"`
		Origins     string `env:"ALLOWED_ORIGINS,default=*"`
	}
	Auth struct {
		TokenSecret string        `env:"TOKEN_SECRET,required"`
		GraceWindow time.Duration `env:"AUTH_GRACE_WINDOW,default=10s"`
	}
	Relay struct {
		HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
		SendQueueSize     int           `env:"SEND_QUEUE_SIZE,default=64"`
		HistoryLimit      int           `env:"HISTORY_LIMIT,default=100"`
	}
}

func Load() (*Config, error) {
	config := &Config{}
	if err := envconfig.Process(context.Background(), config); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}
