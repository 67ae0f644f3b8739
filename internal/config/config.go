// Package config loads the mqttv3 command configuration from a YAML file,
// MQTTV3_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitalvas/mqttv3"
)

// Config is the root configuration for the mqttv3 command.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Will      WillConfig      `mapstructure:"will"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig holds the broker address and session identity.
type BrokerConfig struct {
	URL            string        `mapstructure:"url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	CleanSession   bool          `mapstructure:"clean_session"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxPacketSize  uint32        `mapstructure:"max_packet_size"`
}

// WillConfig holds the optional last will. An empty topic disables it.
type WillConfig struct {
	Topic   string `mapstructure:"topic"`
	Message string `mapstructure:"message"`
	QoS     int    `mapstructure:"qos"`
	Retain  bool   `mapstructure:"retain"`
}

// ReconnectConfig bounds reconnection after an unexpected close.
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"` // -1 for unlimited
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// PublishConfig limits outbound publishes.
type PublishConfig struct {
	RateLimit   float64 `mapstructure:"rate_limit"` // messages per second, 0 for no limit
	Burst       int     `mapstructure:"burst"`
	MaxInflight uint16  `mapstructure:"max_inflight"`
}

// ProxyConfig tunnels the broker connection. An empty URL with FromEnv
// false dials directly.
type ProxyConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	FromEnv  bool   `mapstructure:"from_env"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Load reads the configuration from file, environment variables, flags and
// defaults. Flags that were set on the command line win over everything else.
// If configFile is empty the standard search order applies:
// ./mqttv3.yaml, $HOME/.config/mqttv3/mqttv3.yaml, /etc/mqttv3/mqttv3.yaml.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("broker.url", "tcp://localhost:1883")
	v.SetDefault("broker.clean_session", true)
	v.SetDefault("broker.connect_timeout", 10*time.Second)
	v.SetDefault("broker.max_packet_size", mqttv3.MaxPacketSizeDefault)
	v.SetDefault("will.qos", 0)
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("reconnect.backoff", time.Second)
	v.SetDefault("reconnect.max_backoff", time.Minute)
	v.SetDefault("publish.burst", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mqttv3")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/mqttv3")
		}
		v.AddConfigPath("/etc/mqttv3")
	}

	// Environment variables: MQTTV3_BROKER_URL, MQTTV3_LOGGING_LEVEL, etc.
	v.SetEnvPrefix("MQTTV3")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Broker.Password = resolveEnvRef(cfg.Broker.Password)
	cfg.Proxy.Password = resolveEnvRef(cfg.Proxy.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"broker":        "broker.url",
	"client-id":     "broker.client_id",
	"username":      "broker.username",
	"password":      "broker.password",
	"clean-session": "broker.clean_session",
	"will-topic":    "will.topic",
	"will-message":  "will.message",
	"will-qos":      "will.qos",
	"will-retain":   "will.retain",
	"rate-limit":    "publish.rate_limit",
	"proxy":         "proxy.url",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" with the value of the environment variable.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		if envVal := os.Getenv(val[2 : len(val)-1]); envVal != "" {
			return envVal
		}
	}
	return val
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var err error

	if _, perr := mqttv3.ParseServerURI(c.Broker.URL); perr != nil {
		err = multierr.Append(err, fmt.Errorf("broker.url: %w", perr))
	}
	if c.Broker.Password != "" && c.Broker.Username == "" {
		err = multierr.Append(err, errors.New("broker.password: requires broker.username"))
	}
	if !c.Broker.CleanSession && c.Broker.ClientID == "" {
		err = multierr.Append(err, errors.New("broker.client_id: required when broker.clean_session is false"))
	}

	if c.Will.Topic != "" {
		if werr := mqttv3.ValidateTopicName(c.Will.Topic); werr != nil {
			err = multierr.Append(err, fmt.Errorf("will.topic: %w", werr))
		}
	}
	if c.Will.QoS < 0 || c.Will.QoS > 2 {
		err = multierr.Append(err, fmt.Errorf("will.qos: %d is not 0, 1 or 2", c.Will.QoS))
	}

	if c.Reconnect.Backoff < 0 || c.Reconnect.MaxBackoff < 0 {
		err = multierr.Append(err, errors.New("reconnect: backoff must not be negative"))
	}

	if c.Publish.RateLimit < 0 {
		err = multierr.Append(err, errors.New("publish.rate_limit: must not be negative"))
	}

	if c.Proxy.URL != "" {
		if u, perr := url.Parse(c.Proxy.URL); perr != nil || u.Host == "" {
			err = multierr.Append(err, fmt.Errorf("proxy.url: invalid %q", c.Proxy.URL))
		}
	}

	if _, lerr := zapcore.ParseLevel(c.Logging.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("logging.level: %w", lerr))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format: unknown %q", c.Logging.Format))
	}

	return err
}

// ClientOptions converts the configuration into client options.
func (c *Config) ClientOptions() []mqttv3.Option {
	opts := []mqttv3.Option{
		mqttv3.WithClientID(c.Broker.ClientID),
		mqttv3.WithCleanSession(c.Broker.CleanSession),
		mqttv3.WithConnectTimeout(c.Broker.ConnectTimeout),
		mqttv3.WithMaxPacketSize(c.Broker.MaxPacketSize),
		mqttv3.WithMaxReconnects(c.Reconnect.MaxAttempts),
		mqttv3.WithReconnectBackoff(c.Reconnect.Backoff),
		mqttv3.WithMaxBackoff(c.Reconnect.MaxBackoff),
		mqttv3.WithMaxInflight(c.Publish.MaxInflight),
	}

	switch {
	case c.Broker.Username != "" && c.Broker.Password != "":
		opts = append(opts, mqttv3.WithCredentials(c.Broker.Username, c.Broker.Password))
	case c.Broker.Username != "":
		opts = append(opts, mqttv3.WithUsername(c.Broker.Username))
	}

	if c.Will.Topic != "" {
		opts = append(opts, mqttv3.WithWill(c.Will.Topic, []byte(c.Will.Message), mqttv3.QoS(c.Will.QoS), c.Will.Retain))
	}

	if c.Publish.RateLimit > 0 {
		opts = append(opts, mqttv3.WithPublishRateLimit(c.Publish.RateLimit, c.Publish.Burst))
	}

	if c.Proxy.URL != "" {
		opts = append(opts, mqttv3.WithProxy(mqttv3.ProxyConfig{
			URL:      c.Proxy.URL,
			Username: c.Proxy.Username,
			Password: c.Proxy.Password,
		}))
	} else if c.Proxy.FromEnv {
		opts = append(opts, mqttv3.WithProxyFromEnvironment(true))
	}

	return opts
}

// NewLogger builds a zap logger from the logging settings.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// LogLevel maps the configured level onto the client's log level.
func (c LoggingConfig) LogLevel() mqttv3.LogLevel {
	switch strings.ToLower(c.Level) {
	case "debug":
		return mqttv3.LogLevelDebug
	case "warn":
		return mqttv3.LogLevelWarn
	case "error":
		return mqttv3.LogLevelError
	default:
		return mqttv3.LogLevelInfo
	}
}
