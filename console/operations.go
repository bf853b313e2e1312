package console

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/firmware"
	"github.com/e7canasta/rov-host/future"
	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/tuner"
	"github.com/e7canasta/rov-host/video"
)

type none = struct{}

// Connect opens the RPC session of the named vehicle.
func (c *Console) Connect(name string) *future.Future[none] {
	return onLoop(c, func() (none, error) {
		v, err := c.lookup(name)
		if err != nil {
			return none{}, err
		}
		if v.session != nil {
			return none{}, ErrAlreadyConnected
		}

		prefs := c.cfg.Preferences
		sess, err := session.Connect(c.runContext(), v.cfg.RPCEndpoint, session.Options{
			Vehicle:      name,
			InputRate:    prefs.InputSendingRate,
			PollInterval: prefs.PollInterval,
			Events:       c.sessionEvents,
		})
		if err != nil {
			return none{}, err
		}

		c.mu.Lock()
		v.session = sess
		v.lastErr = ""
		c.mu.Unlock()
		return none{}, nil
	})
}

// Disconnect closes the vehicle's session. A running tuner is stopped first.
func (c *Console) Disconnect(name string) *future.Future[none] {
	return onLoopAsync(c, func() (*future.Future[none], error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		sess := v.session
		if sess == nil {
			return nil, ErrNotConnected
		}
		if v.tuner != nil {
			v.tuner.Stop()
		}

		p, out := future.NewPromise[none](c.loop)
		future.Spawn(c.loop, func() (none, error) {
			return none{}, sess.Disconnect()
		}).OnComplete(func(_ none, err error) {
			c.clearSession(v, sess)
			_ = p.Complete(none{}, err)
		})
		return out, nil
	})
}

// clearSession forgets sess if it is still v's session. Loop only.
func (c *Console) clearSession(v *vehicle, sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.session != sess {
		return
	}
	v.session = nil
	v.tuner = nil
	v.telemetry = nil
	// A reconnect must not replay the last motion.
	v.status.Reset()
}

// Input applies a gamepad event through the vehicle's mapping and submits
// the resulting packet when connected. Unbound events are ignored.
func (c *Console) Input(name string, ev control.InputEvent) *future.Future[none] {
	return onLoop(c, func() (none, error) {
		v, err := c.lookup(name)
		if err != nil {
			return none{}, err
		}
		if _, _, ok := v.mapper.Apply(ev); ok {
			v.submit()
		}
		return none{}, nil
	})
}

// SetStatus writes one status class and submits the resulting packet when
// connected.
func (c *Console) SetStatus(name string, class control.StatusClass, value int16) *future.Future[none] {
	return onLoop(c, func() (none, error) {
		v, err := c.lookup(name)
		if err != nil {
			return none{}, err
		}
		v.status.Set(class, value)
		v.submit()
		return none{}, nil
	})
}

// SubmitControl sends the current status of the vehicle.
func (c *Console) SubmitControl(name string) *future.Future[none] {
	return onLoop(c, func() (none, error) {
		v, err := c.lookup(name)
		if err != nil {
			return none{}, err
		}
		if !v.submit() {
			return none{}, ErrNotConnected
		}
		return none{}, nil
	})
}

// Status returns a snapshot of the vehicle's status map.
func (c *Console) Status(name string) (control.Snapshot, error) {
	c.mu.RLock()
	v, ok := c.vehicles[name]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownVehicle
	}
	return v.status.Snapshot(), nil
}

// StartVideo builds a pipeline from the configuration in effect and starts
// it. The future fails with *video.CapabilityError when an element is
// missing.
func (c *Console) StartVideo(name string) *future.Future[none] {
	return onLoopAsync(c, func() (*future.Future[none], error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		if v.videoActive() {
			return nil, ErrVideoRunning
		}
		opts, err := c.videoOptions(v)
		if err != nil {
			return nil, err
		}
		ctrl, err := video.NewController(opts)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		v.video = ctrl
		c.mu.Unlock()

		ctx := c.runContext()
		f := future.Spawn(c.loop, func() (none, error) {
			return none{}, ctrl.Start(ctx)
		})
		f.OnComplete(func(_ none, err error) {
			if err != nil {
				c.setError(v, err)
				c.toast(name, slog.LevelError, "video failed to start: %v", err)
			}
		})
		return f, nil
	})
}

// StopVideo stops the pipeline, draining an active recording first.
func (c *Console) StopVideo(name string) *future.Future[none] {
	return onLoopAsync(c, func() (*future.Future[none], error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		if !v.videoActive() {
			return nil, ErrVideoStopped
		}
		ctrl := v.video
		return future.Spawn(c.loop, func() (none, error) {
			return none{}, ctrl.Stop()
		}), nil
	})
}

// StartRecord attaches a record branch. An empty path is named after the
// current time in the video save path. The future holds the file path.
func (c *Console) StartRecord(name, path string) *future.Future[string] {
	return onLoop(c, func() (string, error) {
		v, err := c.lookup(name)
		if err != nil {
			return "", err
		}
		if v.video == nil {
			return "", ErrVideoStopped
		}
		if _, err := v.video.StartRecord(path); err != nil {
			return "", err
		}
		return v.video.Stats().RecordPath, nil
	})
}

// StopRecord drains the record branch. The future resolves after teardown;
// a forced teardown fails it with video.ErrDrainTimeout with the result
// still set.
func (c *Console) StopRecord(name string) *future.Future[video.RecordResult] {
	return onLoopAsync(c, func() (*future.Future[video.RecordResult], error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		if v.video == nil {
			return nil, video.ErrNotRecording
		}
		return v.video.StopRecord()
	})
}

// Screenshot saves the latest frame. An empty path is named after the
// current time in the image save path with the configured format.
func (c *Console) Screenshot(name, path string) *future.Future[string] {
	return onLoopAsync(c, func() (*future.Future[string], error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		if v.video == nil {
			return nil, video.ErrNoFrame
		}
		if path == "" {
			path = c.screenshotPath(time.Now())
		}
		ctrl := v.video
		return future.Spawn(c.loop, func() (string, error) {
			if err := ctrl.Screenshot(path); err != nil {
				return "", err
			}
			return path, nil
		}), nil
	})
}

func (c *Console) screenshotPath(now time.Time) string {
	prefs := c.cfg.Preferences
	base := strings.TrimSuffix(video.RecordFileName(now), filepath.Ext(video.RecordFileName(now)))
	return filepath.Join(prefs.ImageSavePath, base+"."+prefs.ImageFormat)
}

// UploadFirmware sends the image at path under the session's exclusive
// channel. Progress is reported as FirmwareProgress messages.
func (c *Console) UploadFirmware(name, path string, compression firmware.Compression) *future.Future[none] {
	return onLoopAsync(c, func() (*future.Future[none], error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		sess := v.session
		if sess == nil {
			return nil, ErrNotConnected
		}
		if v.uploading {
			return nil, ErrFirmwareRunning
		}

		c.mu.Lock()
		v.uploading = true
		c.mu.Unlock()

		ctx := c.runContext()
		var percent atomic.Int64
		percent.Store(-1)
		progress := func(p firmware.Progress) {
			pct := int64(p.Fraction * 100)
			if percent.Swap(pct) == pct {
				return
			}
			_ = c.loop.Post(func() {
				c.emit(FirmwareProgress{Vehicle: name, Sent: p.Sent, Total: p.Total})
			})
		}

		f := future.Spawn(c.loop, func() (none, error) {
			img, err := firmware.PrepareFile(path, compression)
			if err != nil {
				return none{}, err
			}
			return none{}, firmware.Upload(ctx, sess, img, progress)
		})
		f.OnComplete(func(_ none, err error) {
			c.mu.Lock()
			v.uploading = false
			c.mu.Unlock()
			c.emit(FirmwareFinished{Vehicle: name, Err: err})
			if err != nil {
				c.toast(name, slog.LevelError, "firmware upload failed: %v", err)
			} else {
				c.toast(name, slog.LevelInfo, "firmware uploaded")
			}
		})
		return f, nil
	})
}

// StartTuner runs a parameter tuning session under the session's exclusive
// channel. Regular control traffic pauses until the tuner stops.
func (c *Console) StartTuner(name string) *future.Future[*tuner.Tuner] {
	return onLoop(c, func() (*tuner.Tuner, error) {
		v, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		sess := v.session
		if sess == nil {
			return nil, ErrNotConnected
		}
		if v.tuner != nil {
			return nil, ErrTunerRunning
		}
		t, err := tuner.New(tuner.Options{Vehicle: name, Events: c.tunerEvents})
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		v.tuner = t
		c.mu.Unlock()

		ctx := c.runContext()
		future.Spawn(c.loop, func() (none, error) {
			return none{}, sess.BlockOn(ctx, t.Run)
		}).OnComplete(func(_ none, err error) {
			c.mu.Lock()
			if v.tuner == t {
				v.tuner = nil
			}
			c.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				c.toast(name, slog.LevelWarn, "tuner stopped: %v", err)
			}
		})
		return t, nil
	})
}

// StopTuner ends the running tuner.
func (c *Console) StopTuner(name string) *future.Future[none] {
	return onLoop(c, func() (none, error) {
		v, err := c.lookup(name)
		if err != nil {
			return none{}, err
		}
		if v.tuner == nil {
			return none{}, ErrTunerStopped
		}
		v.tuner.Stop()
		return none{}, nil
	})
}

// Tuner returns the vehicle's running tuner.
func (c *Console) Tuner(name string) (*tuner.Tuner, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vehicles[name]
	if !ok {
		return nil, ErrUnknownVehicle
	}
	if v.tuner == nil {
		return nil, ErrTunerStopped
	}
	return v.tuner, nil
}

func (c *Console) setError(v *vehicle, err error) {
	c.mu.Lock()
	v.lastErr = err.Error()
	c.mu.Unlock()
}
