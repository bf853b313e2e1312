package console

import (
	"log/slog"

	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/tuner"
	"github.com/e7canasta/rov-host/video"
)

// handleEvent updates vehicle state from a component event and forwards
// it. Loop only.
func (c *Console) handleEvent(msg Message) {
	v, ok := c.vehicles[msg.VehicleName()]
	if !ok {
		c.logger.Debug("console: event for unknown vehicle", "vehicle", msg.VehicleName())
		return
	}

	switch ev := msg.(type) {
	case session.TelemetryReceived:
		c.mu.Lock()
		v.telemetry = ev.Info
		v.telemetryAt = ev.At
		c.mu.Unlock()

	case session.ConnectionLost:
		c.setError(v, ev.Err)
		c.toast(v.name, slog.LevelError, "connection lost: %v", ev.Err)

	case session.ConnectionChanged:
		if !ev.Connected && v.session != nil {
			sess := v.session
			// The final event precedes Done; clear once it closes.
			go func() {
				<-sess.Done()
				_ = c.loop.Post(func() { c.clearSession(v, sess) })
			}()
		}

	case video.StateChanged:
		switch ev.State {
		case video.StatePlaying:
			c.emit(ev)
			c.emit(PollingChanged{Vehicle: v.name, Polling: true})
			return
		case video.StateStopped:
			c.emit(ev)
			c.emit(PollingChanged{Vehicle: v.name, Polling: false})
			return
		}

	case video.PipelineError:
		c.setError(v, ev.Err)
		c.toast(v.name, slog.LevelError, "video %s error: %v", ev.Category, ev.Err)

	case video.RecordingChanged:
		if ev.Err != nil {
			c.toast(v.name, slog.LevelWarn, "recording %s ended: %v", ev.Path, ev.Err)
		}

	case tuner.Stopped:
		if ev.Err != nil {
			c.setError(v, ev.Err)
		}
	}

	c.emit(msg)
}
