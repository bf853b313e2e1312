package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v2"
)

// VersionResponse is printed by the version command.
type VersionResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print as JSON"},
		},
		Action: func(c *cli.Context) error {
			resp := VersionResponse{
				Version:   Version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if c.Bool("json") {
				return json.NewEncoder(c.App.Writer).Encode(resp)
			}
			_, err := fmt.Fprintf(c.App.Writer, "rov-host %s (%s, %s)\n", resp.Version, resp.GoVersion, resp.Platform)
			return err
		},
	}
}
