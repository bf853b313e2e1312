package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/e7canasta/rov-host/internal/config"
)

// ConfigCommand groups configuration file helpers.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create or check configuration files",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write the default configuration",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: configInit,
			},
			{
				Name:      "validate",
				Usage:     "Check a configuration file",
				ArgsUsage: "[path]",
				Action:    configValidate,
			},
		},
	}
}

func configInit(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected a destination path", exitConfigError)
	}
	path := c.Args().First()
	if !c.Bool("force") {
		if _, err := os.Stat(path); err == nil {
			return cli.Exit(fmt.Sprintf("%s already exists (use --force to overwrite)", path), exitConfigError)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}
	if err := config.Save(path, config.Default()); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

func configValidate(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String(ConfigFlag.Name)
	}
	if path == "" {
		return cli.Exit("expected a configuration path", exitConfigError)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	fmt.Fprintf(c.App.Writer, "%s: ok (%d vehicles)\n", path, len(cfg.Vehicles))
	return nil
}
