package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/quizbot/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
cache:
  dir: /var/cache/quizbot
  ttl: 1d
  format: MsgPack
  backend: sqlite
api:
  url: https://content.example.com/graphql
  token: abc
  timeout: 5s
  retries: 2
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quizbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	for _, name := range []string{"QUIZBOT_CACHE_DIR", "QUIZBOT_CACHE_TTL", "QUIZBOT_API_URL", "QUIZBOT_LOG_LEVEL"} {
		t.Setenv(name, "")
	}
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/cache/quizbot", cfg.Cache.Dir)
	assert.Equal(t, Duration(24*time.Hour), cfg.Cache.TTL)
	assert.Equal(t, codec.FormatMsgpack, cfg.Cache.Format)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "https://content.example.com/graphql", cfg.API.URL)
	assert.Equal(t, Duration(5*time.Second), cfg.API.Timeout)
	assert.Equal(t, 2, cfg.API.Retries)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/cache/quizbot/cache.db", cfg.SQLitePath())
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := writeConfig(t, "api:\n  url: http://localhost:8080\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Cache.TTL, cfg.Cache.TTL)
	assert.Equal(t, def.API.Retries, cfg.API.Retries)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, "cache:\n  ttl: forever\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"QUIZBOT_CACHE_DIR":     "/tmp/q",
		"QUIZBOT_CACHE_TTL":     "90m",
		"QUIZBOT_CACHE_FORMAT":  "cbor",
		"QUIZBOT_CACHE_BACKEND": "file",
		"QUIZBOT_API_URL":       "http://api",
		"QUIZBOT_API_RETRIES":   "7",
		"QUIZBOT_LOG_LEVEL":     "warn",
		"QUIZBOT_OTLP_ENDPOINT": "http://collector:4318",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "/tmp/q", cfg.Cache.Dir)
	assert.Equal(t, Duration(90*time.Minute), cfg.Cache.TTL)
	assert.Equal(t, codec.FormatCBOR, cfg.Cache.Format)
	assert.Equal(t, "http://api", cfg.API.URL)
	assert.Equal(t, 7, cfg.API.Retries)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "http://collector:4318", cfg.Telemetry.Endpoint)

	assert.Error(t, cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "QUIZBOT_CACHE_TTL" {
			return "soon", true
		}
		return "", false
	}))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		require.NoError(t, cfg.ApplyEnv(noEnv))
		cfg.API.URL = "http://api"
		return cfg
	}
	cfg := valid()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendFile, cfg.Cache.Backend)

	tests := map[string]func(*Config){
		"ttl":       func(c *Config) { c.Cache.TTL = 0 },
		"dir":       func(c *Config) { c.Cache.Dir = "" },
		"format":    func(c *Config) { c.Cache.Format = "xml" },
		"backend":   func(c *Config) { c.Cache.Backend = "redis" },
		"entrysize": func(c *Config) { c.Cache.MaxEntrySize = -1 },
		"url":       func(c *Config) { c.API.URL = "" },
		"timeout":   func(c *Config) { c.API.Timeout = -1 },
		"retries":   func(c *Config) { c.API.Retries = -1 },
		"level":     func(c *Config) { c.Log.Level = "loud" },
		"logformat": func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestDurationYAML(t *testing.T) {
	type doc struct {
		TTL Duration `yaml:"ttl"`
	}
	out, err := yaml.Marshal(doc{Duration(36 * time.Hour)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1d")

	var back doc
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, Duration(36*time.Hour), back.TTL)
}

func TestValidateUnknownFormatIsInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.API.URL = "http://api"
	cfg.Cache.Format = "xml"
	err := cfg.Validate()
	assert.True(t, stderrors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "xml")
}

func TestLoadWithLookup(t *testing.T) {
	path := writeConfig(t, "api:\n  url: http://localhost:8080\n")
	cfg, err := LoadWith(path, func(k string) (string, bool) {
		switch k {
		case "QUIZBOT_CACHE_TTL":
			return "2h", true
		case "QUIZBOT_API_URL":
			return "http://from-env", true
		case "QUIZBOT_CACHE_MAX_ENTRY_SIZE":
			return "1024", true
		}
		return "", false
	})
	require.NoError(t, err)
	assert.Equal(t, Duration(2*time.Hour), cfg.Cache.TTL)
	assert.Equal(t, "http://from-env", cfg.API.URL)
	assert.Equal(t, 1024, cfg.Cache.MaxEntrySize)
}
