// Package config loads server configuration from the environment and wires
// the collaboration stack (bus, hub, broadcaster) from it.
package config

import (
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tendant/simple-collab/pkg/simplecollab"
	"github.com/tendant/simple-collab/pkg/simplecollab/bus/memory"
	redisbus "github.com/tendant/simple-collab/pkg/simplecollab/bus/redis"
)

// ServerConfig represents server configuration for the collab service.
type ServerConfig struct {
	Port string `env:"COLLAB_PORT" env-default:"8080"`

	// Collaboration tuning. Defaults: 30s heartbeat, 5m stale max age,
	// 60s reap period, 5s send timeout, 100-message outbound buffer.
	HeartbeatInterval time.Duration `env:"COLLAB_HEARTBEAT_INTERVAL" env-default:"30s"`
	StaleMaxAge       time.Duration `env:"COLLAB_STALE_MAX_AGE" env-default:"5m"`
	ReapPeriod        time.Duration `env:"COLLAB_REAP_PERIOD" env-default:"60s"`
	SendTimeout       time.Duration `env:"COLLAB_SEND_TIMEOUT" env-default:"5s"`
	OutboundBuffer    int           `env:"COLLAB_OUTBOUND_BUFFER" env-default:"100"`

	// JWTSecret verifies tokens presented at the WebSocket handshake.
	// Token issuance is owned by the auth service.
	JWTSecret string `env:"COLLAB_JWT_SECRET" env-default:"dev-secret"`

	Redis RedisConfig
}

// RedisConfig selects the durable-log bus backend. An empty Addr keeps the
// deployment single-instance on the in-process bus.
type RedisConfig struct {
	Addr     string `env:"COLLAB_REDIS_ADDR" env-default:""`
	Password string `env:"COLLAB_REDIS_PASSWORD" env-default:""`
	DB       int    `env:"COLLAB_REDIS_DB" env-default:"0"`
	Stream   string `env:"COLLAB_REDIS_STREAM" env-default:"simplecollab:events"`
}

// Load reads the configuration from the environment.
func Load() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Stack is the wired collaboration core.
type Stack struct {
	Bus         simplecollab.Bus
	Hub         *simplecollab.Hub
	Broadcaster *simplecollab.Broadcaster

	// RedisBus is non-nil when the durable-log backend is active; its Run
	// method must be started to consume remote events.
	RedisBus *redisbus.Bus
}

// Build wires bus, hub, and broadcaster from the configuration. The
// broadcaster is started; callers own starting Hub.Run and RedisBus.Run.
func (c *ServerConfig) Build(logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		bus      simplecollab.Bus
		streamed *redisbus.Bus
	)
	if c.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		streamed = redisbus.New(client, c.Redis.Stream, redisbus.WithLogger(logger))
		bus = streamed
	} else {
		bus = memory.New(memory.WithLogger(logger))
	}

	hub := simplecollab.NewHub(
		simplecollab.WithLogger(logger),
		simplecollab.WithBus(bus),
		simplecollab.WithHeartbeatInterval(c.HeartbeatInterval),
		simplecollab.WithStaleMaxAge(c.StaleMaxAge),
		simplecollab.WithReapPeriod(c.ReapPeriod),
	)

	broadcaster := simplecollab.NewBroadcaster(bus, hub, logger)
	broadcaster.Start()

	return &Stack{
		Bus:         bus,
		Hub:         hub,
		Broadcaster: broadcaster,
		RedisBus:    streamed,
	}, nil
}
