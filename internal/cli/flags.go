// Package cli provides the rov-host commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/e7canasta/rov-host/internal/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Global flags shared by every command.
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the configuration file",
		EnvVars: []string{"ROV_HOST_CONFIG"},
	}

	DebugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}

	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format: json, text",
		Value: "json",
	}
)

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, DebugFlag, LogFormatFlag}
}

// NewApp assembles the rov-host application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "rov-host",
		Usage:   "Host console for remotely operated underwater vehicles",
		Version: Version,
		Flags:   GlobalFlags(),
		Before:  setupLogging,
		Commands: []*cli.Command{
			RunCommand(),
			ProbeCommand(),
			FirmwareCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
	}
}

func setupLogging(c *cli.Context) error {
	logger, err := newLogger(c.App.ErrWriter, c.String(LogFormatFlag.Name), c.Bool(DebugFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, format string, debug bool) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json or text)", format)
	}
}

// loadConfig reads the configured file, or the defaults when no file is
// given.
func loadConfig(c *cli.Context) (*config.Config, string, error) {
	path := c.String(ConfigFlag.Name)
	if path == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
