// Package log owns the server's slog setup. Handlers and levels come from
// flags; the rest of the binary logs through the package-level proxies or
// derives component loggers from Base.
package log

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hiveci/hive/server/flags"
	"github.com/spf13/viper"
)

// Base is a bare logger without attributes, used to derive component
// loggers such as the scheduler's.
var Base *slog.Logger

var logger *slog.Logger

func Init() error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: viper.GetBool(flags.LogSource),
		Level:     logLevel,
	}

	switch format := viper.GetString(flags.LogFormat); format {
	case "json":
		Base = slog.New(slog.NewJSONHandler(os.Stdout, &options))
	case "text":
		Base = slog.New(slog.NewTextHandler(os.Stdout, &options))
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}

	logger = Base.With("component", "server")
	return nil
}

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }

func With(args ...any) *slog.Logger { return logger.With(args...) }
