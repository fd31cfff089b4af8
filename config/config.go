// Package config loads the bot configuration from a YAML file and
// QUIZBOT_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/quizbot/codec"
	"github.com/agentuity/quizbot/logger"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Backend names the durable cache tier.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// Duration is a time.Duration that reads human durations such as "12h" or
// "1d" from YAML and the environment.
type Duration time.Duration

func ParseDuration(s string) (Duration, error) {
	d, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "parsing duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

type Cache struct {
	Dir     string       `yaml:"dir"`
	TTL     Duration     `yaml:"ttl"`
	Format  codec.Format `yaml:"format"`
	Backend Backend      `yaml:"backend"`

	// MaxEntrySize is the largest stored entry, in bytes, the durable tier
	// will decode. 0 disables the limit.
	MaxEntrySize int `yaml:"max_entry_size"`
}

type API struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token,omitempty"`
	Timeout Duration `yaml:"timeout"`
	Retries int      `yaml:"retries"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Telemetry struct {
	Endpoint string `yaml:"endpoint,omitempty"`
}

type Config struct {
	Cache     Cache     `yaml:"cache"`
	API       API       `yaml:"api"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Default returns the configuration used for anything a file or the
// environment leaves unset.
func Default() Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return Config{
		Cache: Cache{
			Dir:     filepath.Join(dir, "quizbot"),
			TTL:     Duration(12 * time.Hour),
			Format:  codec.DefaultFormat,
			Backend: BackendFile,

			MaxEntrySize: 8 << 20,
		},
		API: API{
			Timeout: Duration(10 * time.Second),
			Retries: 3,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// process environment. An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with the environment read through lookup, which lets a
// .env file supply values the process environment leaves unset.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from QUIZBOT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) error {
		if v, ok := lookup(name); ok && v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			*dst = d
		}
		return nil
	}

	str("QUIZBOT_CACHE_DIR", &c.Cache.Dir)
	if err := dur("QUIZBOT_CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}
	if v, ok := lookup("QUIZBOT_CACHE_FORMAT"); ok && v != "" {
		c.Cache.Format = codec.Format(v)
	}
	if v, ok := lookup("QUIZBOT_CACHE_BACKEND"); ok && v != "" {
		c.Cache.Backend = Backend(v)
	}
	if v, ok := lookup("QUIZBOT_CACHE_MAX_ENTRY_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "QUIZBOT_CACHE_MAX_ENTRY_SIZE")
		}
		c.Cache.MaxEntrySize = n
	}
	str("QUIZBOT_API_URL", &c.API.URL)
	str("QUIZBOT_API_TOKEN", &c.API.Token)
	if err := dur("QUIZBOT_API_TIMEOUT", &c.API.Timeout); err != nil {
		return err
	}
	if v, ok := lookup("QUIZBOT_API_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "QUIZBOT_API_RETRIES")
		}
		c.API.Retries = n
	}
	str(logger.LevelEnv, &c.Log.Level)
	str("QUIZBOT_LOG_FORMAT", &c.Log.Format)
	str("QUIZBOT_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	return nil
}

// Validate normalizes the format and backend names and reports the first
// problem found.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.Dir == "" {
		return errors.Wrap(ErrInvalidConfig, "cache.dir is required")
	}
	format, err := codec.ParseFormat(string(c.Cache.Format))
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "cache.format: %v", err)
	}
	c.Cache.Format = format
	switch backend := Backend(strings.ToLower(string(c.Cache.Backend))); backend {
	case "", BackendFile:
		c.Cache.Backend = BackendFile
	case BackendSQLite:
		c.Cache.Backend = backend
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxEntrySize < 0 {
		return errors.Wrapf(ErrInvalidConfig, "cache.max_entry_size must not be negative, got %d", c.Cache.MaxEntrySize)
	}
	if c.API.URL == "" {
		return errors.Wrap(ErrInvalidConfig, "api.url is required")
	}
	if c.API.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.Retries < 0 {
		return errors.Wrapf(ErrInvalidConfig, "api.retries must not be negative, got %d", c.API.Retries)
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return errors.Wrapf(ErrInvalidConfig, "unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown log.format %q", c.Log.Format)
	}
	return nil
}

// SQLitePath is the database file used by the SQLite backend.
func (c Config) SQLitePath() string {
	return filepath.Join(c.Cache.Dir, "cache.db")
}
