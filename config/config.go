package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/hobbyhub-chat/globals"
)

const (
	defaultAdminUser   = "admin"
	defaultAddr        = "localhost:8000"
	defaultHistorySize = 50
	defaultMaxLogBytes = 5 * 1024 * 1024
)

// DefaultDenyList is the set of topic keywords blocked by the lexical moderation stage.
var DefaultDenyList = []string{
	"religious studies", "islam", "christianity", "christ", "god",
	"hinduism", "sanatan", "muslims", "politics", "religion",
}

// Config is the global configuration object which is filled via the configuration file, the environment
// (prefix HOBBYHUB_) and command line flags.
type Config struct {
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	ModerationConfig  ModerationConfig  `mapstructure:"moderation"`
	BotConfig         BotConfig         `mapstructure:"bot"`
	GeminiConfig      GeminiConfig      `mapstructure:"gemini"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RedisConfig       RedisConfig       `mapstructure:"redis"`
	KafkaConfig       KafkaConfig       `mapstructure:"kafka"`
	TelemetryConfig   TelemetryConfig   `mapstructure:"telemetry"`
	RateLimitConfig   RateLimitConfig   `mapstructure:"ratelimit"`
	LogLevel          string            `mapstructure:"log_level"`
	AdminUser         string            `mapstructure:"admin_user"`
	Addr              string            `mapstructure:"addr"`
}

// HistoryConfig configures the bounded per-room message log. HistorySize is the number of messages kept,
// MaxLogBytes the capacity of the serialized log of one room.
type HistoryConfig struct {
	HistorySize     int               `mapstructure:"history_size"`
	MaxLogBytes     int               `mapstructure:"max_log_bytes"`
	Welcome         bool              `mapstructure:"welcome"`
	WelcomeMessages map[string]string `mapstructure:"welcome_messages"`
}

// ModerationConfig configures the two stage moderation gate.
type ModerationConfig struct {
	DenyList           []string      `mapstructure:"deny_list"`
	Timeout            time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// BotConfig configures the bot responder. TriggerFilter is an expr expression evaluated against each
// accepted message, see package filter.
type BotConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Probability     float64       `mapstructure:"probability"`
	MinDelay        time.Duration `mapstructure:"min_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	ContextSize     int           `mapstructure:"context_size"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	UserId          string        `mapstructure:"user_id"`
	UserName        string        `mapstructure:"user_name"`
	TriggerFilter   string        `mapstructure:"trigger_filter"`
}

// GeminiConfig configures the remote content-safety classifier and reply generator. Without an api key
// both are disabled (moderation fails open, the bot stays silent).
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// An OIDCConfig  object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// PersistenceConfig configures the persistence backend. Type is one of "buntdb", "sqlite" or "postgres".
// For buntdb the DSN is the file name (":memory:" for an in-memory database).
type PersistenceConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	FlockPath string `mapstructure:"flock_path"`
}

// RedisConfig enables the cross-instance broadcast relay if Addr is set.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// KafkaConfig enables forwarding of submitted reports if Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ReportsTopic string   `mapstructure:"reports_topic"`
}

// TelemetryConfig enables OpenTelemetry tracing if OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig limits the number of chat messages a single connection may submit.
type RateLimitConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "id of the admin user")
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flagSet.String("addr", "", "http service address (including port)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin_user", defaultAdminUser)
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("history.history_size", defaultHistorySize)
	v.SetDefault("history.max_log_bytes", defaultMaxLogBytes)
	v.SetDefault("history.welcome", true)
	v.SetDefault("moderation.deny_list", DefaultDenyList)
	v.SetDefault("moderation.timeout", "5s")
	v.SetDefault("moderation.breaker_max_failures", 5)
	v.SetDefault("moderation.breaker_open_timeout", "30s")
	v.SetDefault("bot.enabled", true)
	v.SetDefault("bot.probability", 0.7)
	v.SetDefault("bot.min_delay", "2s")
	v.SetDefault("bot.max_delay", "4s")
	v.SetDefault("bot.context_size", 5)
	v.SetDefault("bot.generate_timeout", "15s")
	v.SetDefault("bot.user_id", "bot-gemini")
	v.SetDefault("bot.user_name", "HobbyBot")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("persistence.type", "buntdb")
	v.SetDefault("persistence.dsn", ":memory:")
	v.SetDefault("redis.channel_prefix", "hobbyhub:room:")
	v.SetDefault("kafka.reports_topic", "hobbyhub.reports")
	v.SetDefault("telemetry.service_name", "hobbyhub-chat")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("ratelimit.messages_per_second", 2.0)
	v.SetDefault("ratelimit.burst", 5)
}

// secretKeys are settings that must never be logged.
var secretKeys = map[string]bool{
	"api_key":  true,
	"password": true,
	"dsn":      true,
}

const redacted = "[redacted]"

// redactSecrets returns a copy of settings with the values of secretKeys replaced, at any nesting level.
func redactSecrets(settings map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{}, len(settings))
	for k, val := range settings {
		if secretKeys[strings.ToLower(k)] {
			if s, ok := val.(string); ok && s == "" {
				res[k] = s
			} else {
				res[k] = redacted
			}
			continue
		}
		res[k] = redactValue(val)
	}
	return res
}

func redactValue(val interface{}) interface{} {
	switch v := val.(type) {
	case map[string]interface{}:
		return redactSecrets(v)
	case []interface{}:
		res := make([]interface{}, len(v))
		for i, item := range v {
			res[i] = redactValue(item)
		}
		return res
	case []map[string]interface{}:
		res := make([]interface{}, len(v))
		for i, item := range v {
			res[i] = redactSecrets(item)
		}
		return res
	}
	return val
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix("HOBBYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
		return nil, err
	}

	globals.AppLogger.Debug("config", "all", redactSecrets(v.AllSettings()))
	return &cfg, nil
}
