package console

import (
	"fmt"
	"time"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/internal/config"
	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/transform"
	"github.com/e7canasta/rov-host/tuner"
	"github.com/e7canasta/rov-host/video"
)

// vehicle is the console's view of one ROV. Fields change on the loop under
// Console.mu.
type vehicle struct {
	name   string
	cfg    config.Vehicle
	status *control.StatusMap
	mapper *control.Mapper

	session   *session.Session
	video     *video.Controller
	tuner     *tuner.Tuner
	uploading bool

	telemetry   []session.KV
	telemetryAt time.Time
	lastErr     string
}

func newVehicle(cfg config.Vehicle, mapping control.Mapping) (*vehicle, error) {
	status := control.NewStatusMap()
	mapper, err := control.NewMapper(mapping, status)
	if err != nil {
		return nil, fmt.Errorf("console: vehicle %q: %w", cfg.Name, err)
	}
	return &vehicle{name: cfg.Name, cfg: cfg, status: status, mapper: mapper}, nil
}

// idle reports whether nothing is running for v.
func (v *vehicle) idle() bool {
	return v.session == nil && !v.videoActive() && v.tuner == nil && !v.uploading
}

func (v *vehicle) videoActive() bool {
	return v.video != nil && v.video.State() != video.StateStopped
}

// submit encodes the current status and hands it to the session.
func (v *vehicle) submit() bool {
	if v.session == nil {
		return false
	}
	v.session.Submit(control.Encode(v.status.Snapshot()))
	return true
}

// videoOptions builds controller options from the vehicle and global
// preferences in effect now.
func (c *Console) videoOptions(v *vehicle) (video.Options, error) {
	dec, err := v.cfg.Video.DecoderSpec()
	if err != nil {
		return video.Options{}, err
	}
	enc, err := v.cfg.Video.EncoderSpec()
	if err != nil {
		return video.Options{}, err
	}
	cs, err := video.ParseColorspaceConversion(v.cfg.Video.Colorspace)
	if err != nil {
		return video.Options{}, err
	}
	kind, err := transform.ParseKind(v.cfg.Video.Transform)
	if err != nil {
		return video.Options{}, err
	}

	prefs := c.cfg.Preferences
	return video.Options{
		Vehicle:      v.name,
		Source:       v.cfg.Video.Source,
		Decoder:      dec,
		Encoder:      enc,
		Colorspace:   cs,
		Transform:    kind,
		LeakyQueue:   prefs.AppsinkLeaky,
		RecordDir:    prefs.VideoSavePath,
		DrainTimeout: prefs.DrainTimeout,
		Loop:         c.loop,
		OnFrame:      c.bus.Publish,
		Events:       c.videoEvents,
		Logger:       c.logger,
	}, nil
}

// remap rebuilds the mapper on the existing status map so held values
// survive a reload.
func (v *vehicle) remap(mapping control.Mapping) error {
	mapper, err := control.NewMapper(mapping, v.status)
	if err != nil {
		return fmt.Errorf("console: vehicle %q: %w", v.name, err)
	}
	v.mapper = mapper
	return nil
}
