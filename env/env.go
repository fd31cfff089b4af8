// Package env resolves command settings from cobra flags, the process
// environment and optional .env files.
package env

import (
	"context"
	"os"
	"strings"

	"github.com/agentuity/quizbot/logger"
	"github.com/agentuity/quizbot/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// FileEnv names the variable consulted for the .env file when --env-file is
// not given.
const FileEnv = "QUIZBOT_ENV_FILE"

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a .env file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading env file %s", filename)
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses KEY=value lines. Blank lines and # comments are
// skipped, an "export " prefix is allowed, and ${NAME} or ${NAME:-default}
// references to earlier keys are expanded.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	seen := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		el := ProcessEnvLine(strings.TrimPrefix(line, "export "))
		if el.Key == "" {
			continue
		}
		el.Val = expand(el.Val, seen)
		seen[el.Key] = el.Val
		envs = append(envs, el)
	}
	return envs, nil
}

// ProcessEnvLine splits one KEY=value line and strips matching quotes from
// the value.
func ProcessEnvLine(line string) EnvLine {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// expand replaces ${NAME} and ${NAME:-default}. Unknown names without a
// default are left as written.
func expand(s string, vars map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		out.WriteString(s[:start])
		name, def, _ := strings.Cut(s[start+2:end], ":-")
		if v := vars[name]; v != "" {
			out.WriteString(v)
		} else if def != "" {
			out.WriteString(def)
		} else {
			out.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	out.WriteString(s)
	return out.String()
}

// Lookup returns a lookup function for config loading that prefers the
// process environment and falls back to the given .env lines.
func Lookup(envs []EnvLine) func(string) (string, bool) {
	file := make(map[string]string, len(envs))
	for _, el := range envs {
		file[el.Key] = el.Val
	}
	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v, true
		}
		v, ok := file[name]
		return v, ok
	}
}

// FlagOrEnv returns the flag value if it is set, else the environment
// variable, else defaultValue. Empty values count as unset.
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves the log-level flag, then QUIZBOT_LOG_LEVEL, then
// fallback. Unknown names give LevelInfo.
func LogLevel(cmd *cobra.Command, fallback string) logger.LogLevel {
	level, _ := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, fallback))
	return level
}

// NewLogger returns a logger in format ("console" or "json") at the level
// resolved by LogLevel.
func NewLogger(cmd *cobra.Command, format, fallbackLevel string) logger.Logger {
	return logger.New(format, LogLevel(cmd, fallbackLevel))
}

// NewTelemetry returns the tracer provider for the command. The cobra flags
// it reads, when defined, are:
//
// --no-telemetry (boolean): spans are not exported
//
// --otlp-url (string): the OTLP/HTTP collector, defaulting to QUIZBOT_OTLP_ENDPOINT and then endpoint
//
// --otlp-token (string): bearer token for the collector, defaulting to QUIZBOT_OTLP_TOKEN
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName, version, endpoint string) (*sdktrace.TracerProvider, telemetry.ShutdownFunc, error) {
	if off, err := cmd.Flags().GetBool("no-telemetry"); err == nil && off {
		endpoint = ""
	} else {
		endpoint = FlagOrEnv(cmd, "otlp-url", "QUIZBOT_OTLP_ENDPOINT", endpoint)
	}
	token := FlagOrEnv(cmd, "otlp-token", "QUIZBOT_OTLP_TOKEN", "")
	tp, shutdown, err := telemetry.NewTracerProvider(ctx, endpoint, token, serviceName, version)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating telemetry")
	}
	return tp, shutdown, nil
}
