package config

import (
	"fmt"

	"github.com/e7canasta/rov-host/internal/rpc"
	"github.com/e7canasta/rov-host/transform"
	"github.com/e7canasta/rov-host/video"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	p := cfg.Preferences
	if p.InputSendingRate <= 0 || p.InputSendingRate > 1000 {
		return invalid("preferences.input_sending_rate", "must be in 1..1000, got %d", p.InputSendingRate)
	}
	if p.PollInterval <= 0 {
		return invalid("preferences.poll_interval", "must be > 0")
	}
	if p.DrainTimeout <= 0 {
		return invalid("preferences.drain_timeout", "must be > 0")
	}
	switch p.ImageFormat {
	case "png", "jpg", "jpeg", "bmp", "tif", "tiff", "gif":
	default:
		return invalid("preferences.image_format", "unsupported format %q", p.ImageFormat)
	}

	seen := make(map[string]bool, len(cfg.Vehicles))
	for i, v := range cfg.Vehicles {
		field := fmt.Sprintf("vehicles[%d]", i)
		if v.Name == "" {
			return invalid(field+".name", "is required")
		}
		if seen[v.Name] {
			return invalid(field+".name", "duplicate vehicle %q", v.Name)
		}
		seen[v.Name] = true

		if _, err := rpc.ValidateEndpoint(v.RPCEndpoint); err != nil {
			return invalid(field+".rpc_endpoint", "%v", err)
		}
		if err := validateVideo(field+".video", v.Video); err != nil {
			return err
		}
	}

	if _, err := cfg.Input.Mapping(); err != nil {
		return err
	}

	switch cfg.MQTT.Codec {
	case "json", "msgpack":
	default:
		return invalid("mqtt.codec", "must be json or msgpack, got %q", cfg.MQTT.Codec)
	}
	if cfg.MQTT.QoS > 2 {
		return invalid("mqtt.qos", "must be 0, 1 or 2")
	}
	return nil
}

func validateVideo(field string, v Video) error {
	if _, err := video.ParseSource(v.Source); err != nil {
		return invalid(field+".source", "%v", err)
	}
	if _, err := v.DecoderSpec(); err != nil {
		return invalid(field+".decoder", "%v", err)
	}
	if _, err := v.EncoderSpec(); err != nil {
		return invalid(field+".record_encoder", "%v", err)
	}
	if _, err := video.ParseColorspaceConversion(v.Colorspace); err != nil {
		return invalid(field+".colorspace", "%v", err)
	}
	if _, err := transform.ParseKind(v.Transform); err != nil {
		return invalid(field+".transform", "%v", err)
	}
	return nil
}

// DecoderSpec parses the decoder section.
func (v Video) DecoderSpec() (video.Decoder, error) {
	c, err := video.ParseCodec(v.Decoder.Codec)
	if err != nil {
		return video.Decoder{}, err
	}
	p, err := video.ParseProvider(v.Decoder.Provider)
	if err != nil {
		return video.Decoder{}, err
	}
	return video.Decoder{Codec: c, Provider: p}, nil
}

// EncoderSpec parses the record encoder section; nil means copy recording.
func (v Video) EncoderSpec() (*video.Encoder, error) {
	if v.RecordEncoder == nil {
		return nil, nil
	}
	c, err := video.ParseCodec(v.RecordEncoder.Codec)
	if err != nil {
		return nil, err
	}
	p, err := video.ParseProvider(v.RecordEncoder.Provider)
	if err != nil {
		return nil, err
	}
	return &video.Encoder{Codec: c, Provider: p}, nil
}
