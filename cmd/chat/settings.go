package main

import (
	"fmt"
	"strings"
	"time"
)

const (
	storageDriverMongoDB  = "mongodb"
	storageDriverPostgres = "postgres"

	bridgeDriverRedis  = "redis"
	bridgeDriverNATS   = "nats"
	bridgeDriverMemory = "memory"
)

type Settings struct {
	Port           int     `env:"PORT,default=8000"`
	JWTSecret      string  `env:"JWT_SECRET,required=true"`
	BasePath       string  `env:"BASE_PATH,default=/chat"`
	LogEncoding    string  `env:"LOG_ENCODING,default=console"`
	LogLevel       string  `env:"LOG_LEVEL,default=debug"`
	AllowedOrigins Origins `env:"ALLOWED_ORIGINS"`

	StorageDriver   string `env:"STORAGE_DRIVER,default=mongodb"`
	MongoDBURI      string `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	MongoDBDatabase string `env:"MONGODB_DATABASE,default=chat"`
	PostgresURL     string `env:"POSTGRES_URL,default=postgres://localhost:5432/chat"`

	BridgeDriver            string        `env:"BRIDGE_DRIVER,default=redis"`
	RedisAddr               string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword           string        `env:"REDIS_PASSWORD"`
	RedisDB                 int           `env:"REDIS_DB,default=0"`
	NATSURL                 string        `env:"NATS_URL,default=nats://localhost:4222"`
	BridgeReconnectBaseWait time.Duration `env:"BRIDGE_RECONNECT_BASE_WAIT,default=500ms"`
	BridgeReconnectMaxWait  time.Duration `env:"BRIDGE_RECONNECT_MAX_WAIT,default=30s"`

	ConnectionSendBuffer int           `env:"CONNECTION_SEND_BUFFER,default=256"`
	StartupTimeout       time.Duration `env:"STARTUP_TIMEOUT,default=15s"`
}

func (s Settings) Validate() error {
	switch s.StorageDriver {
	case storageDriverMongoDB, storageDriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", s.StorageDriver)
	}

	switch s.BridgeDriver {
	case bridgeDriverRedis, bridgeDriverNATS, bridgeDriverMemory:
	default:
		return fmt.Errorf("unknown bridge driver %q", s.BridgeDriver)
	}

	if s.ConnectionSendBuffer <= 0 {
		return fmt.Errorf("connection send buffer must be positive, got %d", s.ConnectionSendBuffer)
	}

	return nil
}

// Origins is a comma separated list of allowed browser origins.
type Origins []string

func (o *Origins) UnmarshalEnvironmentValue(data string) error {
	*o = nil

	for _, origin := range strings.Split(data, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			*o = append(*o, origin)
		}
	}

	return nil
}
