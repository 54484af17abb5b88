package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(Options{})
	require.NoError(t, err)
	cfg.Ingest.HMACSecret = "hmac"
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "secret"
	cfg.Admin.JWTSecret = "jwt"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.HTTP.TLSEnabled())
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, 24*time.Hour, cfg.Ingest.MaxAge)
	assert.Equal(t, `^tonw-\d{4}$`, cfg.Ingest.TrackerPattern)
	assert.Equal(t, 12*time.Hour, cfg.Admin.SessionTTL)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, 5, cfg.Login.Burst)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "beacon.yaml")
	content := `
http:
  addr: ":9443"
  tls_cert: /etc/beacon/tls.crt
  tls_key: /etc/beacon/tls.key
mqtt:
  broker: mqtt.example.com
  topic: fleet/reports
ingest:
  max_age: 2h
admin:
  username: ops
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))

	cfg, err := Load(Options{File: file})
	require.NoError(t, err)

	assert.Equal(t, ":9443", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.TLSEnabled())
	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Broker)
	assert.Equal(t, "fleet/reports", cfg.MQTT.Topic)
	assert.Equal(t, 2*time.Hour, cfg.Ingest.MaxAge)
	assert.Equal(t, "ops", cfg.Admin.Username)
	// untouched keys keep their defaults
	assert.Equal(t, 1883, cfg.MQTT.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("BEACON_HTTP_ADDR", ":7000")
	t.Setenv("BEACON_INGEST_MAX_AGE", "48h")
	t.Setenv("BEACON_MQTT_ENABLED", "false")
	t.Setenv("BEACON_ADMIN_USERNAME", "root")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 48*time.Hour, cfg.Ingest.MaxAge)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "root", cfg.Admin.Username)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("HMAC_SECRET_KEY", "legacy-hmac")
	t.Setenv("MQTT_URL", "broker.internal")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("JWT_SECRET", "legacy-jwt")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "legacy-hmac", cfg.Ingest.HMACSecret)
	assert.Equal(t, "broker.internal", cfg.MQTT.Broker)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "legacy-jwt", cfg.Admin.JWTSecret)

	// The prefixed name wins over the legacy one.
	t.Setenv("BEACON_INGEST_HMAC_SECRET", "new-hmac")
	cfg, err = Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "new-hmac", cfg.Ingest.HMACSecret)
}

func TestLoadFlags(t *testing.T) {
	t.Setenv("BEACON_HTTP_ADDR", ":7000")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("listen", ":8080", "")
	flags.String("data-dir", "./data", "")
	require.NoError(t, flags.Parse([]string{"--listen", ":6000"}))

	cfg, err := Load(Options{
		Flags: flags,
		Bindings: map[string]string{
			"listen":   "http.addr",
			"data-dir": "storage.data_dir",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.HTTP.Addr, "a set flag beats env")
	assert.Equal(t, "./data", cfg.Storage.DataDir)

	_, err = Load(Options{Flags: flags, Bindings: map[string]string{"nope": "http.addr"}})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig(t).Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing hmac secret", func(c *Config) { c.Ingest.HMACSecret = "" }},
		{"missing jwt secret", func(c *Config) { c.Admin.JWTSecret = "" }},
		{"missing admin username", func(c *Config) { c.Admin.Username = "" }},
		{"missing admin password", func(c *Config) { c.Admin.Password = "" }},
		{"bad tracker pattern", func(c *Config) { c.Ingest.TrackerPattern = "([" }},
		{"zero max age", func(c *Config) { c.Ingest.MaxAge = 0 }},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Broker = "" }},
		{"half tls", func(c *Config) { c.HTTP.TLSCert = "cert.pem" }},
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"no login rate", func(c *Config) { c.Login.Rate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidatePasswordHashOnly(t *testing.T) {
	cfg := validConfig(t)
	cfg.Admin.Password = ""
	cfg.Admin.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	assert.NoError(t, cfg.Validate())
}

func TestValidateMQTTDisabled(t *testing.T) {
	cfg := validConfig(t)
	cfg.MQTT.Enabled = false
	cfg.MQTT.Broker = ""
	cfg.MQTT.Topic = ""
	assert.NoError(t, cfg.Validate())
}
