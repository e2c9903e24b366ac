package main

import (
	"flag"
	"time"
)

// cliFlags holds the parsed command line.
type cliFlags struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Validate        bool
	ShowVersion     bool
}

func parseFlags() *cliFlags {
	flags := &cliFlags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file (JSON or YAML); defaults apply when empty")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Override log format (json, text)")
	flag.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	flag.BoolVar(&flags.Validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")

	flag.Parse()
	return flags
}
