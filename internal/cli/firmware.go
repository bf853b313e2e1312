package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/e7canasta/rov-host/firmware"
	"github.com/e7canasta/rov-host/session"
)

// FirmwareCommand uploads a firmware image without starting the console.
func FirmwareCommand() *cli.Command {
	return &cli.Command{
		Name:      "firmware",
		Usage:     "Upload a firmware image to a vehicle",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "vehicle",
				Aliases:  []string{"v"},
				Usage:    "Vehicle name from the configuration",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "compression",
				Usage: "Payload compression: none, gzip, zstd (only if the vehicle firmware decompresses it)",
				Value: string(firmware.CompressionNone),
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Prepare the image and print its header without uploading",
			},
		},
		Action: firmwareAction,
	}
}

func firmwareAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one firmware image path", exitConfigError)
	}
	comp, err := firmware.ParseCompression(c.String("compression"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	cfg, _, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	name := c.String("vehicle")
	vcfg, ok := cfg.Vehicle(name)
	if !ok {
		return cli.Exit(fmt.Sprintf("unknown vehicle %q", name), exitConfigError)
	}

	img, err := firmware.PrepareFile(c.Args().First(), comp)
	if err != nil {
		return cli.Exit(err.Error(), exitStartError)
	}
	fmt.Fprintf(c.App.Writer, "image: %d bytes, payload %d bytes (%s), md5 %s\n",
		img.RawSize, img.Info.Size, img.Info.Compression, img.Info.MD5)
	if c.Bool("dry-run") {
		return nil
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan session.Event, 16)
	go drainEvents(ctx, events)

	sess, err := session.Connect(ctx, vcfg.RPCEndpoint, session.Options{
		Vehicle:      name,
		InputRate:    cfg.Preferences.InputSendingRate,
		PollInterval: cfg.Preferences.PollInterval,
		Events:       events,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("connect %s: %v", name, err), exitStartError)
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			slog.Warn("firmware: disconnect failed", "error", err)
		}
	}()

	last := -1
	err = firmware.Upload(ctx, sess, img, func(p firmware.Progress) {
		pct := int(p.Fraction * 100)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(c.App.Writer, "\ruploading %3d%% (%d/%d)", pct, p.Sent, p.Total)
	})
	fmt.Fprintln(c.App.Writer)
	if err != nil {
		if ctx.Err() != nil {
			return cli.Exit("upload interrupted", exitStartError)
		}
		return cli.Exit(err.Error(), exitStartError)
	}
	fmt.Fprintln(c.App.Writer, "upload complete")
	return nil
}

// drainEvents logs session events until ctx ends. Telemetry is not shown
// during an upload.
func drainEvents(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch e := ev.(type) {
			case session.ConnectionLost:
				slog.Warn("firmware: connection lost", "error", e.Err)
			case session.TelemetryReceived:
			default:
				slog.Debug("firmware: session event", "event", fmt.Sprintf("%T", ev))
			}
		}
	}
}
