package main

import (
	"log/slog"
	"os"
)

type logConfig struct {
	Level  string `default:"info" enum:"debug,info,warn,error" help:"Set log level."`
	Format string `default:"text" enum:"text,json"             help:"Set log format."`
}

func (c logConfig) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// logger builds a stderr logger so compiled output on stdout stays clean.
func (c logConfig) logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.level()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// install makes the configured logger the process default.
func (c logConfig) install() {
	slog.SetDefault(c.logger())
}
