package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment EnvironmentConfig
	Ops         OpsConfig
	Remote      RemoteConfig
	Realtime    RealtimeConfig
	Redis       RedisConfig
	Session     SessionConfig
	Presence    PresenceConfig
	Tracing     TracingConfig
}

type EnvironmentConfig struct {
	Current string
}

// OpsConfig is the local health/metrics HTTP surface of the client daemon.
type OpsConfig struct {
	Port string
}

type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type RealtimeConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SessionConfig struct {
	UserID string
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration
	TypingTimeout     time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

func LoadConfig() (config Config, err error) {
	viper.SetConfigName("app")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, err
		}
	}

	viper.AutomaticEnv()

	viper.SetDefault("environment.current", "development")
	viper.SetDefault("ops.port", "9090")
	viper.SetDefault("remote.baseurl", "http://localhost:8000")
	viper.SetDefault("remote.apikey", "")
	viper.SetDefault("remote.timeout", 10*time.Second)
	viper.SetDefault("realtime.url", "ws://localhost:8000/realtime/v1/websocket")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("session.userid", "")
	viper.SetDefault("presence.heartbeatinterval", 30*time.Second)
	viper.SetDefault("presence.typingtimeout", 3*time.Second)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
	viper.SetDefault("tracing.servicename", "fusionchat-client")

	err = viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
