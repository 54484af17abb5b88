package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. BEACON_HTTP_ADDR
const EnvPrefix = "BEACON"

// Config is the full process configuration
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	MQTT    MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	Ingest  IngestConfig  `mapstructure:"ingest" yaml:"ingest"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Login   LoginConfig   `mapstructure:"login" yaml:"login"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	TLSCert         string        `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key" yaml:"tls_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TLSEnabled reports whether both certificate and key are configured
func (h HTTPConfig) TLSEnabled() bool {
	return h.TLSCert != "" && h.TLSKey != ""
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Port     int    `mapstructure:"port" yaml:"port"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
}

type IngestConfig struct {
	HMACSecret     string        `mapstructure:"hmac_secret" yaml:"hmac_secret"`
	MaxAge         time.Duration `mapstructure:"max_age" yaml:"max_age"`
	TrackerPattern string        `mapstructure:"tracker_pattern" yaml:"tracker_pattern"`
	QueueSize      int           `mapstructure:"queue_size" yaml:"queue_size"`
}

type AdminConfig struct {
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	PasswordHash string        `mapstructure:"password_hash" yaml:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	SessionTTL   time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`
}

type LoginConfig struct {
	// Rate is login attempts per second allowed per client IP
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// Defaults returns the built-in default for every key
func Defaults() map[string]any {
	return map[string]any{
		"log.level": "info",
		"log.json":  false,

		"http.addr":             ":8080",
		"http.tls_cert":         "",
		"http.tls_key":          "",
		"http.read_timeout":     "15s",
		"http.write_timeout":    "30s",
		"http.shutdown_timeout": "10s",

		"mqtt.enabled":   true,
		"mqtt.broker":    "localhost",
		"mqtt.port":      1883,
		"mqtt.client_id": "beacon",
		"mqtt.username":  "",
		"mqtt.password":  "",
		"mqtt.topic":     "trackers/+/data",
		"mqtt.qos":       1,

		"ingest.hmac_secret":     "",
		"ingest.max_age":         "24h",
		"ingest.tracker_pattern": `^tonw-\d{4}$`,
		"ingest.queue_size":      1024,

		"admin.username":      "",
		"admin.password":      "",
		"admin.password_hash": "",
		"admin.jwt_secret":    "",
		"admin.session_ttl":   "12h",

		"storage.data_dir":       "./data",
		"storage.encryption_key": "",

		"login.rate":  0.2,
		"login.burst": 5,
	}
}

// legacyEnv maps config keys to the environment variable names used by
// earlier deployments. They are consulted after the BEACON_ name.
var legacyEnv = map[string]string{
	"http.tls_cert":      "SSL_CERT_PATH",
	"http.tls_key":       "SSL_KEY_PATH",
	"mqtt.broker":        "MQTT_URL",
	"mqtt.port":          "MQTT_PORT",
	"mqtt.username":      "MQTT_USERNAME",
	"mqtt.password":      "MQTT_PASSWORD",
	"mqtt.topic":         "MQTT_TOPIC",
	"ingest.hmac_secret": "HMAC_SECRET_KEY",
	"admin.username":     "ADMIN_USERNAME",
	"admin.password":     "ADMIN_PASSWORD",
	"admin.jwt_secret":   "JWT_SECRET",
}

// Options controls where Load looks for configuration
type Options struct {
	// File is an explicit config file; when empty beacon.yaml is searched
	// for in the working directory and /etc/beacon
	File string
	// Flags are bound by Bindings, flag name -> config key
	Flags    *pflag.FlagSet
	Bindings map[string]string
}

// Load layers defaults, the config file, environment and flags, in that
// order of increasing precedence
func Load(opts Options) (*Config, error) {
	v := viper.New()

	// 1. Defaults
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	// 2. Config file
	v.SetConfigName("beacon")
	v.SetConfigType("yaml")
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/beacon")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit file must exist; the search locations are optional.
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 3. Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	// 4. Flags
	if opts.Flags != nil {
		for flagName, key := range opts.Bindings {
			flag := opts.Flags.Lookup(flagName)
			if flag == nil {
				return nil, fmt.Errorf("unknown flag %q bound to %s", flagName, key)
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings serve needs to start
func (c *Config) Validate() error {
	var errs []error

	if c.Ingest.HMACSecret == "" {
		errs = append(errs, fmt.Errorf("ingest.hmac_secret is required"))
	}
	if c.Ingest.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_age must be positive"))
	}
	if _, err := regexp.Compile(c.Ingest.TrackerPattern); err != nil {
		errs = append(errs, fmt.Errorf("ingest.tracker_pattern: %w", err))
	}
	if c.Ingest.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.queue_size must be positive"))
	}

	if c.Admin.Username == "" {
		errs = append(errs, fmt.Errorf("admin.username is required"))
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		errs = append(errs, fmt.Errorf("admin.password or admin.password_hash is required"))
	}
	if c.Admin.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("admin.jwt_secret is required"))
	}
	if c.Admin.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("admin.session_ttl must be positive"))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, fmt.Errorf("mqtt.topic is required when mqtt is enabled"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
		}
	}

	if (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == "") {
		errs = append(errs, fmt.Errorf("http.tls_cert and http.tls_key must be set together"))
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, fmt.Errorf("storage.data_dir is required"))
	}

	if c.Login.Rate <= 0 || c.Login.Burst <= 0 {
		errs = append(errs, fmt.Errorf("login.rate and login.burst must be positive"))
	}

	return errors.Join(errs...)
}
