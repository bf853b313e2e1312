// Command rov-host runs the ROV host console.
//
// Usage:
//
//	rov-host [--config file] <command> [options]
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: unexpected error
//   - 2: configuration error
//   - 3: startup or upload failure
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	rovcli "github.com/e7canasta/rov-host/internal/cli"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := rovcli.NewApp()
	app.Version = fmt.Sprintf("%s (commit: %s)", rovcli.Version, commit)
	app.ExitErrHandler = exitErrHandler

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler keeps the exit code of cli.Exit errors.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
