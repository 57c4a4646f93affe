// Package config loads the server and client settings from a config file
// and CONTEST_* environment variables.
//
//	server.port      → CONTEST_SERVER_PORT
//	etcd.endpoints   → CONTEST_ETCD_ENDPOINTS (comma separated)
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"contest-rpc/codec"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CONTEST"

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxFrameSize    uint32        `mapstructure:"max_frame_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	AdminAddr       string        `mapstructure:"admin_addr"`
	AdvertiseAddr   string        `mapstructure:"advertise_addr"`
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type ClientConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Codec          string        `mapstructure:"codec"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DialRetries    int           `mapstructure:"dial_retries"`
	DialBackoff    time.Duration `mapstructure:"dial_backoff"`
}

func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CodecType parses Codec.
func (c ClientConfig) CodecType() (codec.CodecType, error) {
	return codec.ParseCodecType(c.Codec)
}

// EtcdConfig enables service discovery when Endpoints is not empty.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	TTL         int64         `mapstructure:"ttl"`
	ServiceName string        `mapstructure:"service_name"`
}

func (c EtcdConfig) Enabled() bool {
	return len(c.Endpoints) > 0
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Prefix    string `mapstructure:"prefix"`
	MaxIdle   int    `mapstructure:"max_idle"`
	MaxActive int    `mapstructure:"max_active"`
}

type StoreConfig struct {
	Driver   string      `mapstructure:"driver"` // memory | redis
	SeedFile string      `mapstructure:"seed_file"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Etcd   EtcdConfig   `mapstructure:"etcd"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.max_conns", 0)
	v.SetDefault("server.max_frame_size", 4*1024*1024)
	v.SetDefault("server.read_timeout", 5*time.Minute)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.admin_addr", "")
	v.SetDefault("server.advertise_addr", "")

	v.SetDefault("client.host", "localhost")
	v.SetDefault("client.port", 8888)
	v.SetDefault("client.codec", "json")
	v.SetDefault("client.heartbeat", 30*time.Second)
	v.SetDefault("client.request_timeout", 10*time.Second)
	v.SetDefault("client.dial_retries", 3)
	v.SetDefault("client.dial_backoff", 200*time.Millisecond)

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.ttl", 10)
	v.SetDefault("etcd.service_name", "contest")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.seed_file", "")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.prefix", "contest:")
	v.SetDefault("store.redis.max_idle", 4)
	v.SetDefault("store.redis.max_active", 16)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with the defaults and the environment
// binding in place. Callers may bind command-line flags before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps flag names to config keys, e.g. "port" → "server.port".
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return errors.Errorf("config: no flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "config: bind %q", name)
		}
	}
	return nil
}

// Load reads path (any format viper knows) when given, otherwise looks for
// an optional contest.{yaml,toml,json} in the working directory and
// /etc/contest-rpc. Precedence: flags, env, file, defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	} else {
		v.SetConfigName("contest")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/contest-rpc")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "config: read")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		return fmt.Errorf("config: client.port %d out of range", c.Client.Port)
	}
	if _, err := c.Client.CodecType(); err != nil {
		return errors.Wrap(err, "config: client.codec")
	}
	switch c.Store.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return fmt.Errorf("config: server.rate_burst must be positive when rate_limit is set")
	}
	return nil
}
