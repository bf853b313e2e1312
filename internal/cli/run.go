package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/e7canasta/rov-host/bridge"
	"github.com/e7canasta/rov-host/console"
	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/firmware"
	"github.com/e7canasta/rov-host/internal/config"
	"github.com/e7canasta/rov-host/internal/health"
)

// Exit codes for the run command.
const (
	exitConfigError = 2
	exitStartError  = 3
)

// RunCommand starts the console and keeps it running until a signal.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the console with the MQTT bridge and health endpoint",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "connect",
				Usage: "Vehicles to connect on startup",
			},
			&cli.BoolFlag{
				Name:  "video",
				Usage: "Start video for every vehicle connected on startup",
			},
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "Override the health and metrics listen address",
			},
			&cli.StringFlag{
				Name:  "broker",
				Usage: "Override the MQTT broker address",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Reload the configuration file when it changes",
				Value: true,
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	logger := slog.Default()

	cfg, path, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	if addr := c.String("http-addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if broker := c.String("broker"); broker != "" {
		cfg.MQTT.Broker = broker
	}
	for _, name := range c.StringSlice("connect") {
		if _, ok := cfg.Vehicle(name); !ok {
			return cli.Exit(fmt.Sprintf("unknown vehicle %q", name), exitConfigError)
		}
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// The console is created after the bridge so the bridge can be its
	// publisher; the callbacks only run once both exist.
	var con *console.Console
	br, err := newBridge(cfg, func() *console.Console { return con }, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("bridge error: %v", err), exitConfigError)
	}

	opts := console.Options{Config: cfg, Logger: logger}
	if br != nil {
		opts.Publisher = br
	}
	con, err = console.New(opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("console error: %v", err), exitConfigError)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- con.Run(ctx) }()

	if br != nil {
		if err := br.Connect(ctx); err != nil {
			// paho keeps retrying in the background.
			logger.Warn("bridge: initial connect failed", "broker", cfg.MQTT.Broker, "error", err)
		}
		defer br.Close()
	}

	var srv *health.Server
	if cfg.HTTP.Addr != "" {
		reporter := health.ReporterFunc(func() health.Report {
			r := con.HealthReport()
			r.Bridge = br != nil && br.Connected()
			return r
		})
		srv = health.NewServer(cfg.HTTP.Addr, reporter, Version, logger)
		if err := srv.Start(); err != nil {
			cancel()
			<-errCh
			return cli.Exit(fmt.Sprintf("health server: %v", err), exitStartError)
		}
	}

	if path != "" && c.Bool("watch") {
		go func() {
			err := config.Watch(ctx, path, logger, func(next *config.Config) {
				con.ApplyConfig(next).OnComplete(func(_ struct{}, err error) {
					if err != nil {
						logger.Warn("config: reload rejected", "error", err)
					}
				})
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config: watcher stopped", "error", err)
			}
		}()
	}

	go autoStart(ctx, con, c.StringSlice("connect"), c.Bool("video"), logger)

	logger.Info("rov-host running",
		"version", Version,
		"vehicles", con.Vehicles(),
		"broker", cfg.MQTT.Broker,
		"http", cfg.HTTP.Addr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health: shutdown failed", "error", err)
		}
		done()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return cli.Exit(fmt.Sprintf("console stopped: %v", runErr), exitStartError)
	}
	logger.Info("rov-host stopped")
	return nil
}

func autoStart(ctx context.Context, con *console.Console, names []string, video bool, logger *slog.Logger) {
	for _, name := range names {
		if _, err := con.Connect(name).Await(ctx); err != nil {
			logger.Warn("auto-connect failed", "vehicle", name, "error", err)
			continue
		}
		if !video {
			continue
		}
		if _, err := con.StartVideo(name).Await(ctx); err != nil {
			logger.Warn("auto-start video failed", "vehicle", name, "error", err)
		}
	}
}

// newBridge returns nil when no broker is configured.
func newBridge(cfg *config.Config, get func() *console.Console, logger *slog.Logger) (*bridge.Bridge, error) {
	if cfg.MQTT.Broker == "" {
		return nil, nil
	}
	codec, err := bridge.NewCodec(cfg.MQTT.Codec)
	if err != nil {
		return nil, err
	}
	return bridge.New(bridge.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Codec:    codec,
		QoS:      cfg.MQTT.QoS,
		Topics: bridge.Topics{
			Commands:  cfg.MQTT.Topics.Commands,
			Telemetry: cfg.MQTT.Topics.Telemetry,
			Events:    cfg.MQTT.Topics.Events,
		},
		Callbacks: consoleCallbacks(get),
		Logger:    logger,
	})
}

// consoleCallbacks routes bridge commands to console operations.
func consoleCallbacks(get func() *console.Console) bridge.Callbacks {
	return bridge.Callbacks{
		Status: func(ctx context.Context) any {
			return get().HealthReport()
		},
		Connect: func(ctx context.Context, vehicle string) error {
			_, err := get().Connect(vehicle).Await(ctx)
			return err
		},
		Disconnect: func(ctx context.Context, vehicle string) error {
			_, err := get().Disconnect(vehicle).Await(ctx)
			return err
		},
		StartVideo: func(ctx context.Context, vehicle string) error {
			_, err := get().StartVideo(vehicle).Await(ctx)
			return err
		},
		StopVideo: func(ctx context.Context, vehicle string) error {
			_, err := get().StopVideo(vehicle).Await(ctx)
			return err
		},
		StartRecord: func(ctx context.Context, vehicle, path string) (string, error) {
			return get().StartRecord(vehicle, path).Await(ctx)
		},
		StopRecord: func(ctx context.Context, vehicle string) (string, error) {
			res, err := get().StopRecord(vehicle).Await(ctx)
			return res.Path, err
		},
		Screenshot: func(ctx context.Context, vehicle, path string) (string, error) {
			return get().Screenshot(vehicle, path).Await(ctx)
		},
		Input: func(ctx context.Context, vehicle string, ev control.InputEvent) error {
			_, err := get().Input(vehicle, ev).Await(ctx)
			return err
		},
		SetStatus: func(ctx context.Context, vehicle string, class control.StatusClass, value int16) error {
			_, err := get().SetStatus(vehicle, class, value).Await(ctx)
			return err
		},
		Firmware: func(ctx context.Context, vehicle, path string, comp firmware.Compression) error {
			_, err := get().UploadFirmware(vehicle, path, comp).Await(ctx)
			return err
		},
		Tuner: func(ctx context.Context, vehicle string, req bridge.TunerRequest) error {
			return tunerAction(ctx, get(), vehicle, req)
		},
	}
}

func tunerAction(ctx context.Context, con *console.Console, vehicle string, req bridge.TunerRequest) error {
	switch req.Action {
	case bridge.TunerStart:
		_, err := con.StartTuner(vehicle).Await(ctx)
		return err
	case bridge.TunerStop:
		_, err := con.StopTuner(vehicle).Await(ctx)
		return err
	}

	t, err := con.Tuner(vehicle)
	if err != nil {
		return err
	}
	switch req.Action {
	case bridge.TunerPreviewPropeller:
		return t.PreviewPropeller(req.Propeller, req.Value)
	case bridge.TunerPreviewControlLoop:
		return t.PreviewControlLoop(req.Loop, req.Gains)
	case bridge.TunerUpload:
		return t.Upload(req.Parameters)
	case bridge.TunerReload:
		return t.Reload()
	case bridge.TunerDebug:
		return t.SetDebugMode(req.Enabled)
	default:
		return fmt.Errorf("unknown tuner action %q", req.Action)
	}
}
