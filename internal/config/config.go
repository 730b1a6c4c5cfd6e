package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Options are runtime knobs that never appear on the command line: the
// commands and their positional arguments are fixed, everything else
// comes from the environment (QUAVER_*) or an optional quaver.toml next
// to the database file.
type Options struct {
	LogLevel slog.Level
	// Exclude prunes matching paths from the walk, e.g. `@eaDir|\.trash`.
	Exclude *regexp.Regexp
}

func Load(dbPath string) (Options, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("exclude", "")

	v.SetEnvPrefix("quaver")
	v.AutomaticEnv()

	v.SetConfigName("quaver")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Dir(dbPath))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Options{}, fmt.Errorf("read config file: %w", err)
		}
	}

	options := Options{}

	level, err := parseLevel(v.GetString("log_level"))
	if err != nil {
		return Options{}, err
	}
	options.LogLevel = level

	if pattern := v.GetString("exclude"); pattern != "" {
		exclude, err := regexp.Compile(pattern)
		if err != nil {
			return Options{}, fmt.Errorf("compile exclude pattern %q: %w", pattern, err)
		}
		options.Exclude = exclude
	}

	return options, nil
}

func parseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}
