package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/egorky/iafsm/internal/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. IAFSM_REDIS_ADDR.
const EnvPrefix = "IAFSM"

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Settings is the process configuration, merged from flags, environment
// and an optional config file, in that order of precedence.
type Settings struct {
	Dir     string          `mapstructure:"dir"`
	Log     LogSettings     `mapstructure:"log"`
	Engine  EngineSettings  `mapstructure:"engine"`
	Session SessionSettings `mapstructure:"session"`
	Redis   RedisSettings   `mapstructure:"redis"`
	HTTP    HTTPSettings    `mapstructure:"http"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineSettings struct {
	Strict                  bool   `mapstructure:"strict"`
	DefaultIntent           string `mapstructure:"default_intent"`
	AutoAdvanceHops         int    `mapstructure:"auto_advance_hops"`
	ConsumerGroup           string `mapstructure:"consumer_group"`
	ResponseChannelTemplate string `mapstructure:"response_channel_template"`
	ScriptsDir              string `mapstructure:"scripts_dir"`
	// PendingMaxAge gives up async responses without a wait point after this long.
	PendingMaxAge time.Duration `mapstructure:"pending_max_age"`
}

type SessionSettings struct {
	// Store is memory, file or redis. Empty picks redis when an address is
	// configured and memory otherwise.
	Store         string        `mapstructure:"store"`
	Dir           string        `mapstructure:"dir"`
	TTL           time.Duration `mapstructure:"ttl"`
	Durable       bool          `mapstructure:"durable"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	Mask          []string      `mapstructure:"mask"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type HTTPSettings struct {
	Port        int  `mapstructure:"port"`
	MetricsPort int  `mapstructure:"metrics_port"`
	Watch       bool `mapstructure:"watch"`
}

// flagKeys binds persistent flags to their config keys.
var flagKeys = map[string]string{
	"dir":            "dir",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"strict":         "engine.strict",
	"default-intent": "engine.default_intent",
	"auto-advance":   "engine.auto_advance_hops",
	"store":          "session.store",
	"session-dir":    "session.dir",
	"session-ttl":    "session.ttl",
	"redis-addr":     "redis.addr",
	"redis-password": "redis.password",
	"redis-db":       "redis.db",
	"port":           "http.port",
	"metrics-port":   "http.metrics_port",
	"watch":          "http.watch",
}

// envAliases are accepted besides the derived IAFSM_<KEY> names.
var envAliases = map[string][]string{
	"engine.default_intent": {"IAFSM_DEFAULT_INTENT"},
	"session.ttl":           {"IAFSM_SESSION_TTL"},
	"redis.addr":            {"IAFSM_REDIS_ADDR", "REDIS_URL"},
}

// AddPersistentFlags registers the flags every command shares.
func AddPersistentFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (yaml, json or toml)")
	f.String("dir", ".", "Directory holding states, api_definitions and scripts")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.String("log-format", "text", "Log format: text or json")
	f.Bool("strict", false, "Treat configuration lint warnings as errors")
	f.String("default-intent", "", "Intent used when a turn carries none")
	f.Int("auto-advance", 0, "Extra states a turn may pass through without an intent")
	f.String("store", "", "Session store: memory, file or redis")
	f.String("session-dir", "", "Directory of the file session store")
	f.Duration("session-ttl", time.Hour, "Idle session lifetime (0 keeps sessions forever)")
	f.String("redis-addr", "", "Redis address for sessions, locks and response streams")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
}

// NewViper returns a viper instance bound to cmd's flags and the environment.
func NewViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("http.port", 8080)
	v.SetDefault("engine.pending_max_age", runtime.DefaultPendingMaxAge)

	for key, aliases := range envAliases {
		names := append([]string{envName(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}
	for name, key := range flagKeys {
		if fl := cmd.Flags().Lookup(name); fl != nil {
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, err
			}
		}
	}

	if fl := cmd.Flags().Lookup("config"); fl != nil && fl.Value.String() != "" {
		v.SetConfigFile(fl.Value.String())
		if err := v.ReadInConfig(); err != nil {
			// A missing file is tolerated; a broken one is not.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// LoadSettings decodes v into Settings and fills derived defaults.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	if s.Dir == "" {
		s.Dir = "."
	}
	if s.Session.Store == "" {
		s.Session.Store = StoreMemory
		if s.Redis.Addr != "" {
			s.Session.Store = StoreRedis
		}
	}
	switch s.Session.Store {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if s.Redis.Addr == "" {
			return s, errors.New("session store redis needs redis.addr")
		}
	default:
		return s, fmt.Errorf("unknown session store %q", s.Session.Store)
	}
	return s, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}
