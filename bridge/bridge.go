// Package bridge exposes the console over MQTT: commands arrive on
// <commands>/<vehicle>, telemetry leaves on <telemetry>/<vehicle> and state
// changes plus command acknowledgements on <events>/<vehicle>.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/firmware"
	"github.com/e7canasta/rov-host/internal/metrics"
	"github.com/e7canasta/rov-host/session"
)

const (
	connectTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
	commandQueueSize = 32
)

var (
	// ErrNotConnected is returned when publishing without a broker.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrUnsupported is returned for a command with no callback.
	ErrUnsupported = errors.New("bridge: command not supported")
)

// Callbacks carry out commands. A nil callback makes its command fail with
// ErrUnsupported. Callbacks run on the bridge's command goroutine in arrival
// order, except firmware, stop_video, stop_record and tuner start, which
// each run on their own goroutine and are acknowledged when they finish.
type Callbacks struct {
	Status      func(ctx context.Context) any
	Connect     func(ctx context.Context, vehicle string) error
	Disconnect  func(ctx context.Context, vehicle string) error
	StartVideo  func(ctx context.Context, vehicle string) error
	StopVideo   func(ctx context.Context, vehicle string) error
	StartRecord func(ctx context.Context, vehicle, path string) (string, error)
	StopRecord  func(ctx context.Context, vehicle string) (string, error)
	Screenshot  func(ctx context.Context, vehicle, path string) (string, error)
	Input       func(ctx context.Context, vehicle string, ev control.InputEvent) error
	SetStatus   func(ctx context.Context, vehicle string, class control.StatusClass, value int16) error
	Firmware    func(ctx context.Context, vehicle, path string, c firmware.Compression) error
	Tuner       func(ctx context.Context, vehicle string, req TunerRequest) error
}

// Topics are prefixes; the vehicle name is appended.
type Topics struct {
	Commands  string
	Telemetry string
	Events    string
}

// Options configures a Bridge.
type Options struct {
	Broker    string
	ClientID  string
	Codec     Codec
	QoS       byte
	Topics    Topics
	Callbacks Callbacks
	Logger    *slog.Logger
}

// Publisher is the part of mqtt.Client the bridge publishes through.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

type inbound struct {
	topic   string
	payload []byte
}

// Bridge connects the console to an MQTT broker.
type Bridge struct {
	opts   Options
	codec  Codec
	logger *slog.Logger

	client    mqtt.Client
	pub       Publisher
	connected atomic.Bool

	commands chan inbound
	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New validates opts. Nothing connects until Connect.
func New(opts Options) (*Bridge, error) {
	if opts.Broker == "" {
		return nil, errors.New("bridge: broker address is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("bridge: invalid qos %d", opts.QoS)
	}
	if opts.Topics.Commands == "" || opts.Topics.Telemetry == "" || opts.Topics.Events == "" {
		return nil, errors.New("bridge: commands, telemetry and events topics are required")
	}
	if opts.Codec == nil {
		opts.Codec = JSON
	}
	if opts.ClientID == "" {
		opts.ClientID = "rov-host-" + uuid.NewString()[:8]
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		opts:     opts,
		codec:    opts.Codec,
		logger:   logger.With("component", "bridge"),
		commands: make(chan inbound, commandQueueSize),
	}, nil
}

func brokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// Connect dials the broker, subscribes to the commands topic and starts
// processing commands until ctx ends or Close is called.
func (b *Bridge) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(b.opts.Broker))
	opts.SetClientID(b.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		b.connected.Store(true)
		b.logger.Info("bridge: mqtt connection established",
			"broker", b.opts.Broker,
			"client_id", b.opts.ClientID,
		)
		// Subscriptions do not survive a clean reconnect.
		if err := b.subscribe(c); err != nil {
			b.logger.Error("bridge: resubscribe failed", "error", err)
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		b.connected.Store(false)
		b.logger.Warn("bridge: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", b.opts.Broker,
		)
	}

	b.client = mqtt.NewClient(opts)
	b.pub = b.client

	b.logger.Info("bridge: connecting to mqtt broker", "broker", b.opts.Broker, "codec", b.codec.Name())
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("bridge: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bridge: mqtt connection failed: %w", err)
	}

	b.start(ctx)
	return nil
}

func (b *Bridge) subscribe(c mqtt.Client) error {
	topic := b.opts.Topics.Commands + "/+"
	token := c.Subscribe(topic, b.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.enqueue(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("bridge: subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bridge: subscribe to %s: %w", topic, err)
	}
	b.logger.Info("bridge: subscribed to commands", "topic", topic, "qos", b.opts.QoS)
	return nil
}

func (b *Bridge) start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processCommands(ctx)
	}()
}

func (b *Bridge) enqueue(topic string, payload []byte) {
	metrics.BridgeMessagesTotal.WithLabelValues("in", "command").Inc()
	select {
	case b.commands <- inbound{topic: topic, payload: payload}:
	default:
		metrics.BridgeMessagesTotal.WithLabelValues("in", "dropped").Inc()
		b.logger.Warn("bridge: command queue full, dropping command", "topic", topic)
	}
}

func (b *Bridge) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.commands:
			cmd, resp, ok := b.decode(msg.topic, msg.payload)
			if !ok {
				b.ack(resp)
				continue
			}
			if !longRunning(cmd) {
				b.ack(b.run(ctx, cmd))
				continue
			}
			// Uploads and drains take seconds to minutes; input must keep
			// flowing meanwhile.
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.ack(b.run(ctx, cmd))
			}()
		}
	}
}

// longRunning reports whether cmd waits on a transfer or a pipeline drain.
func longRunning(cmd Command) bool {
	switch cmd.Command {
	case CmdFirmware, CmdStopVideo, CmdStopRecord:
		return true
	case CmdTuner:
		return cmd.Params.Action == TunerStart
	default:
		return false
	}
}

func (b *Bridge) ack(resp Response) {
	if err := b.respond(resp); err != nil {
		b.logger.Error("bridge: failed to publish response",
			"command_ack", resp.CommandAck,
			"error", err,
		)
	}
}

// Close stops command processing and disconnects from the broker.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		if b.client != nil && b.client.IsConnected() {
			b.client.Unsubscribe(b.opts.Topics.Commands + "/+").WaitTimeout(publishTimeout)
			b.client.Disconnect(250)
		}
		b.connected.Store(false)
		b.logger.Info("bridge: stopped")
	})
}

// Connected reports whether the broker connection is up.
func (b *Bridge) Connected() bool { return b.connected.Load() }

// Handle decodes and runs one command received on topic.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) Response {
	cmd, resp, ok := b.decode(topic, payload)
	if !ok {
		return resp
	}
	return b.run(ctx, cmd)
}

// decode parses payload. On failure it returns the error response to send.
func (b *Bridge) decode(topic string, payload []byte) (Command, Response, bool) {
	var cmd Command
	if err := b.codec.Unmarshal(payload, &cmd); err != nil {
		b.logger.Error("bridge: failed to parse command", "topic", topic, "error", err)
		return cmd, b.response(Command{Command: "unknown", ID: uuid.NewString()}, nil,
			fmt.Errorf("invalid %s payload: %w", b.codec.Name(), err)), false
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Vehicle == "" {
		cmd.Vehicle = vehicleFromTopic(b.opts.Topics.Commands, topic)
	}
	return cmd, Response{}, true
}

func (b *Bridge) run(ctx context.Context, cmd Command) Response {
	b.logger.Info("bridge: command received", "command", cmd.Command, "vehicle", cmd.Vehicle, "id", cmd.ID)
	data, err := b.dispatch(ctx, cmd)
	return b.response(cmd, data, err)
}

func vehicleFromTopic(prefix, topic string) string {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func (b *Bridge) response(cmd Command, data any, err error) Response {
	resp := Response{
		CommandAck: cmd.Command,
		ID:         cmd.ID,
		Vehicle:    cmd.Vehicle,
		Status:     StatusSuccess,
		Data:       data,
		Timestamp:  timestamp(time.Now()),
	}
	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		resp.Data = nil
	}
	return resp
}

func (b *Bridge) dispatch(ctx context.Context, cmd Command) (any, error) {
	cb := b.opts.Callbacks
	if cmd.Command != CmdStatus && cmd.Vehicle == "" {
		return nil, errors.New("missing vehicle")
	}

	switch cmd.Command {
	case CmdStatus:
		if cb.Status == nil {
			return nil, unsupported(cmd.Command)
		}
		return cb.Status(ctx), nil

	case CmdConnect:
		return nil, call(cb.Connect, ctx, cmd)
	case CmdDisconnect:
		return nil, call(cb.Disconnect, ctx, cmd)
	case CmdStartVideo:
		return nil, call(cb.StartVideo, ctx, cmd)
	case CmdStopVideo:
		return nil, call(cb.StopVideo, ctx, cmd)

	case CmdStartRecord:
		return pathResult(cb.StartRecord, ctx, cmd)
	case CmdScreenshot:
		return pathResult(cb.Screenshot, ctx, cmd)
	case CmdStopRecord:
		if cb.StopRecord == nil {
			return nil, unsupported(cmd.Command)
		}
		path, err := cb.StopRecord(ctx, cmd.Vehicle)
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": path}, nil

	case CmdInput:
		if cb.Input == nil {
			return nil, unsupported(cmd.Command)
		}
		ev, err := cmd.Params.inputEvent()
		if err != nil {
			return nil, err
		}
		return nil, cb.Input(ctx, cmd.Vehicle, ev)

	case CmdSetStatus:
		if cb.SetStatus == nil {
			return nil, unsupported(cmd.Command)
		}
		class, err := control.ParseStatusClass(cmd.Params.Class)
		if err != nil {
			return nil, err
		}
		v, err := cmd.Params.int16Value()
		if err != nil {
			return nil, err
		}
		return nil, cb.SetStatus(ctx, cmd.Vehicle, class, v)

	case CmdFirmware:
		if cb.Firmware == nil {
			return nil, unsupported(cmd.Command)
		}
		if cmd.Params.Path == "" {
			return nil, errors.New("missing 'path' parameter")
		}
		c, err := firmware.ParseCompression(cmd.Params.Compression)
		if err != nil {
			return nil, err
		}
		return nil, cb.Firmware(ctx, cmd.Vehicle, cmd.Params.Path, c)

	case CmdTuner:
		if cb.Tuner == nil {
			return nil, unsupported(cmd.Command)
		}
		req, err := cmd.Params.tunerRequest()
		if err != nil {
			return nil, err
		}
		return nil, cb.Tuner(ctx, cmd.Vehicle, req)

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Command)
	}
}

func unsupported(name string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, name)
}

func call(fn func(context.Context, string) error, ctx context.Context, cmd Command) error {
	if fn == nil {
		return unsupported(cmd.Command)
	}
	return fn(ctx, cmd.Vehicle)
}

func pathResult(fn func(context.Context, string, string) (string, error), ctx context.Context, cmd Command) (any, error) {
	if fn == nil {
		return nil, unsupported(cmd.Command)
	}
	path, err := fn(ctx, cmd.Vehicle, cmd.Params.Path)
	if err != nil {
		return nil, err
	}
	return map[string]string{"path": path}, nil
}

func (b *Bridge) respond(resp Response) error {
	vehicle := resp.Vehicle
	if vehicle == "" {
		vehicle = "_"
	}
	return b.publish(b.opts.Topics.Events+"/"+vehicle+"/ack", "response", resp)
}

// PublishTelemetry sends one telemetry snapshot for vehicle.
func (b *Bridge) PublishTelemetry(vehicle string, info []session.KV, at time.Time) error {
	return b.publish(b.opts.Topics.Telemetry+"/"+vehicle, "telemetry", Telemetry{
		Vehicle:   vehicle,
		Timestamp: timestamp(at),
		Info:      info,
	})
}

// PublishEvent sends a state change of type typ for vehicle.
func (b *Bridge) PublishEvent(vehicle, typ string, data any) error {
	return b.publish(b.opts.Topics.Events+"/"+vehicle, typ, Event{
		Type:      typ,
		Vehicle:   vehicle,
		Timestamp: timestamp(time.Now()),
		Data:      data,
	})
}

func (b *Bridge) publish(topic, typ string, v any) error {
	if b.pub == nil || !b.connected.Load() {
		return ErrNotConnected
	}
	payload, err := b.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: marshal %s: %w", typ, err)
	}
	token := b.pub.Publish(topic, b.opts.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("bridge: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bridge: publish to %s: %w", topic, err)
	}
	metrics.BridgeMessagesTotal.WithLabelValues("out", typ).Inc()
	b.logger.Debug("bridge: published", "topic", topic, "type", typ, "size", len(payload))
	return nil
}
