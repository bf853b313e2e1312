package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/rov-host/control"
)

// Defaults for a fresh install.
const (
	DefaultInputSendingRate = 60
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultDrainTimeout     = 5 * time.Second
	DefaultRPCEndpoint      = "http://192.168.137.219:8888"
	DefaultVideoSource      = "rtp://0.0.0.0:5600"
	DefaultImageFormat      = "png"
	DefaultHTTPAddr         = ":9090"
)

// Config is the complete console configuration.
type Config struct {
	Preferences Preferences `yaml:"preferences"`
	Vehicles    []Vehicle   `yaml:"vehicles"`
	Input       Input       `yaml:"input"`
	MQTT        MQTT        `yaml:"mqtt"`
	HTTP        HTTP        `yaml:"http"`
}

// Preferences apply to every vehicle.
type Preferences struct {
	InputSendingRate int           `yaml:"input_sending_rate"` // control packets per second
	PollInterval     time.Duration `yaml:"poll_interval"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"` // record branch EOS wait
	VideoSavePath    string        `yaml:"video_save_path"`
	ImageSavePath    string        `yaml:"image_save_path"`
	ImageFormat      string        `yaml:"image_format"` // png, jpg, bmp, tif, gif
	AppsinkLeaky     bool          `yaml:"appsink_leaky"`
}

// Vehicle describes one ROV.
type Vehicle struct {
	Name        string `yaml:"name"`
	RPCEndpoint string `yaml:"rpc_endpoint"`
	Video       Video  `yaml:"video"`
}

// Video configures a vehicle's stream.
type Video struct {
	Source        string `yaml:"source"`
	Decoder       Codec  `yaml:"decoder"`
	RecordEncoder *Codec `yaml:"record_encoder,omitempty"` // nil records without re-encoding
	Colorspace    string `yaml:"colorspace"`
	Transform     string `yaml:"transform"`
}

// Codec names a codec and the plugin family providing it.
type Codec struct {
	Codec    string `yaml:"codec"`
	Provider string `yaml:"provider"`
}

// Input configures the gamepad layout. Empty maps fall back to the
// built-in layout.
type Input struct {
	Deadzone int16                `yaml:"deadzone"`
	Axes     map[int]AxisBinding   `yaml:"axes"`
	Buttons  map[int]ButtonBinding `yaml:"buttons"`
}

// AxisBinding routes an axis to a status class by name.
type AxisBinding struct {
	Class    string `yaml:"class"`
	Inverted bool   `yaml:"inverted"`
}

// ButtonBinding routes a button to a status class by name.
type ButtonBinding struct {
	Class string `yaml:"class"`
	Mode  string `yaml:"mode"` // toggle or hold
}

// MQTT configures the control bridge. An empty broker disables it.
type MQTT struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Codec    string     `yaml:"codec"` // json or msgpack
	QoS      byte       `yaml:"qos"`
	Topics   MQTTTopics `yaml:"topics"`
}

// MQTTTopics are topic prefixes; the vehicle name is appended.
type MQTTTopics struct {
	Commands  string `yaml:"commands"`
	Telemetry string `yaml:"telemetry"`
	Events    string `yaml:"events"`
}

// HTTP configures the health and metrics endpoint. An empty address
// disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with one vehicle at the factory address
// and the health endpoint on DefaultHTTPAddr.
func Default() *Config {
	cfg := &Config{HTTP: HTTP{Addr: DefaultHTTPAddr}}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	p := &cfg.Preferences
	if p.InputSendingRate == 0 {
		p.InputSendingRate = DefaultInputSendingRate
	}
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.DrainTimeout == 0 {
		p.DrainTimeout = DefaultDrainTimeout
	}
	if p.VideoSavePath == "" {
		p.VideoSavePath = defaultDir("Videos")
	}
	if p.ImageSavePath == "" {
		p.ImageSavePath = defaultDir("Pictures")
	}
	if p.ImageFormat == "" {
		p.ImageFormat = DefaultImageFormat
	}

	if len(cfg.Vehicles) == 0 {
		cfg.Vehicles = []Vehicle{{Name: "rov"}}
	}
	for i := range cfg.Vehicles {
		v := &cfg.Vehicles[i]
		if v.RPCEndpoint == "" {
			v.RPCEndpoint = DefaultRPCEndpoint
		}
		if v.Video.Source == "" {
			v.Video.Source = DefaultVideoSource
		}
		if v.Video.Decoder.Codec == "" {
			v.Video.Decoder.Codec = "h264"
		}
		if v.Video.Decoder.Provider == "" {
			v.Video.Decoder.Provider = "avcodec"
		}
		if e := v.Video.RecordEncoder; e != nil && e.Provider == "" {
			e.Provider = "native"
		}
		if v.Video.Colorspace == "" {
			v.Video.Colorspace = "cpu"
		}
		if v.Video.Transform == "" {
			v.Video.Transform = "none"
		}
	}

	if cfg.MQTT.Codec == "" {
		cfg.MQTT.Codec = "json"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "rov-host"
	}
	if cfg.MQTT.Topics.Commands == "" {
		cfg.MQTT.Topics.Commands = "rov/commands"
	}
	if cfg.MQTT.Topics.Telemetry == "" {
		cfg.MQTT.Topics.Telemetry = "rov/telemetry"
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = "rov/events"
	}
}

// Vehicle returns the named vehicle.
func (c *Config) Vehicle(name string) (Vehicle, bool) {
	for _, v := range c.Vehicles {
		if v.Name == name {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Mapping converts the input section into a control.Mapping.
func (in Input) Mapping() (control.Mapping, error) {
	m := control.DefaultMapping()
	m.Deadzone = in.Deadzone

	if len(in.Axes) > 0 {
		m.Axes = make(map[int]control.AxisBinding, len(in.Axes))
		for idx, a := range in.Axes {
			class, err := control.ParseStatusClass(a.Class)
			if err != nil {
				return control.Mapping{}, &ValidationError{Field: fmt.Sprintf("input.axes.%d.class", idx), Reason: err.Error()}
			}
			m.Axes[idx] = control.AxisBinding{Class: class, Inverted: a.Inverted}
		}
	}
	if len(in.Buttons) > 0 {
		m.Buttons = make(map[int]control.ButtonBinding, len(in.Buttons))
		for idx, b := range in.Buttons {
			class, err := control.ParseStatusClass(b.Class)
			if err != nil {
				return control.Mapping{}, &ValidationError{Field: fmt.Sprintf("input.buttons.%d.class", idx), Reason: err.Error()}
			}
			mode := control.ButtonToggle
			switch b.Mode {
			case "hold":
				mode = control.ButtonHold
			case "", "toggle":
			default:
				return control.Mapping{}, &ValidationError{Field: fmt.Sprintf("input.buttons.%d.mode", idx), Reason: "must be toggle or hold"}
			}
			m.Buttons[idx] = control.ButtonBinding{Class: class, Mode: mode}
		}
	}
	return m, nil
}

func defaultDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return sub
	}
	return home + string(os.PathSeparator) + sub
}
