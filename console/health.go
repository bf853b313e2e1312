package console

import (
	"sort"

	"github.com/e7canasta/rov-host/internal/health"
)

// HealthReport implements health.Reporter. Bridge state is filled in by
// the owner.
func (c *Console) HealthReport() health.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := health.Report{
		Ready:    c.ready.Load(),
		Vehicles: make([]health.VehicleHealth, 0, len(c.vehicles)),
	}
	for _, v := range c.vehicles {
		vh := health.VehicleHealth{
			Name:       v.name,
			Connected:  v.session != nil,
			VideoState: "stopped",
			Tuning:     v.tuner != nil,
			LastError:  v.lastErr,
		}
		if v.session != nil {
			st := v.session.Stats()
			vh.Busy = st.Busy
			vh.PacketsSent = st.PacketsSent
			vh.Overwritten = st.Overwritten
			vh.Polls = st.Polls
		}
		if v.video != nil {
			st := v.video.Stats()
			vh.VideoState = st.State.String()
			vh.Width, vh.Height = st.Width, st.Height
			vh.Frames = st.Frames
			vh.SkippedFrames = st.Skipped
			vh.FPS = st.Rate.FPSMean
			vh.JitterMs = st.Rate.JitterMean * 1000
			vh.StreamStable = st.Rate.Stable
			vh.Recording = st.Recording
			vh.RecordPath = st.RecordPath
		}
		report.Vehicles = append(report.Vehicles, vh)
	}
	sort.Slice(report.Vehicles, func(i, j int) bool {
		return report.Vehicles[i].Name < report.Vehicles[j].Name
	})
	return report
}
