package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/agentuity/quizbot/codec"
	"github.com/agentuity/quizbot/quiz"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var a *app
	root := &cobra.Command{
		Use:           "quizbot",
		Short:         "Fetch and cache quiz content for the quiz bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(cmd.Context(), cmd)
			return err
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "path to the YAML config file (env QUIZBOT_CONFIG)")
	flags.String("cache-dir", "", "directory of the durable cache")
	flags.String("ttl", "", "lifetime of cached question sets, e.g. 12h or 1d")
	flags.String("format", "", fmt.Sprintf("encoding of cached entries %v", codec.Formats()))
	flags.String("backend", "", "durable cache backend (file or sqlite)")
	flags.String("api-url", "", "URL of the quiz content GraphQL API")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("env-file", "", "path to a .env file with QUIZBOT_* settings (env QUIZBOT_ENV_FILE)")
	flags.Bool("no-telemetry", false, "do not export traces")
	flags.String("otlp-url", "", "OTLP/HTTP collector URL (env QUIZBOT_OTLP_ENDPOINT)")
	flags.String("otlp-token", "", "bearer token for the collector (env QUIZBOT_OTLP_TOKEN)")

	run := func(fn runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			defer a.Close()
			return fn(cmd, args, a)
		}
	}
	root.AddCommand(newFetchCommand(run), newWarmCommand(run), newCacheCommand(run))
	return root
}

type runFunc func(cmd *cobra.Command, args []string, a *app) error

// wrapper binds a runFunc to the app built by the root command and closes
// the app afterwards.
type wrapper func(runFunc) func(*cobra.Command, []string) error

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFetchCommand(run wrapper) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "fetch <language>",
		Short: "Print the questions for a language",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			if count > 0 {
				questions, err := a.service.Random(cmd.Context(), args[0], count, nil)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), questions)
			}
			set, err := a.service.Questions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), set)
		}),
	}
	cmd.Flags().IntVar(&count, "count", 0, "print this many random questions instead of the whole set")
	return cmd
}

func newWarmCommand(run wrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "warm <language>...",
		Short: "Load the questions for languages into the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			err := a.service.Warm(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "warmed %d languages\n", len(args))
			return nil
		}),
	}
}

type inspection struct {
	Key        string    `json:"key"`
	Expiration time.Time `json:"expiration"`
	Expired    bool      `json:"expired"`
	Questions  int       `json:"questions"`
	Value      quiz.Set  `json:"value"`
}

func newCacheCommand(run wrapper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or purge the durable cache",
	}
	inspect := &cobra.Command{
		Use:   "inspect <key>",
		Short: "Print the durable entry for a key",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			entry, err := a.layered.Durable.GetEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry == nil {
				return errors.Newf("no cache entry for %q", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), inspection{
				Key:        args[0],
				Expiration: entry.Expiration,
				Expired:    entry.IsExpired(),
				Questions:  len(entry.Value.Questions),
				Value:      entry.Value,
			})
		}),
	}
	purge := &cobra.Command{
		Use:   "purge [key...]",
		Short: "Delete durable entries, all of them when no key is given",
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			keys := args
			if len(keys) == 0 {
				var err error
				if keys, err = a.layered.Durable.Keys(cmd.Context()); err != nil {
					return err
				}
			}
			for _, key := range keys {
				if err := a.layered.Durable.Delete(cmd.Context(), key); err != nil {
					return err
				}
				a.logger.Debug("purged %s", key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", len(keys))
			return nil
		}),
	}
	cmd.AddCommand(inspect, purge)
	return cmd
}
