package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Frame is a decoded RGB24 frame with tightly packed rows.
// The public Frame type lives in the parent package.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// Geometry is the negotiated frame size, packed so it can be swapped
// atomically from the streaming thread.
type Geometry struct {
	v atomic.Uint64
}

// Store records width and height.
func (g *Geometry) Store(width, height int) {
	g.v.Store(uint64(uint32(width))<<32 | uint64(uint32(height)))
}

// Load returns the last stored geometry; ok is false until one is known.
func (g *Geometry) Load() (width, height int, ok bool) {
	v := g.v.Load()
	width, height = int(v>>32), int(uint32(v))
	return width, height, width > 0 && height > 0
}

// Reset forgets the geometry.
func (g *Geometry) Reset() { g.v.Store(0) }

// SinkContext holds the state the appsink callback needs.
type SinkContext struct {
	Geometry *Geometry
	Deliver  func(Frame)
	Logger   *slog.Logger

	frames  atomic.Uint64
	skipped atomic.Uint64
	bytes   atomic.Uint64
}

// Counters returns delivered frames, skipped frames and bytes read.
func (c *SinkContext) Counters() (frames, skipped, bytes uint64) {
	return c.frames.Load(), c.skipped.Load(), c.bytes.Load()
}

// Attach wires the geometry probe and the new-sample callback to the
// appsink.
func (c *SinkContext) Attach(sink *app.Sink) {
	if pad := sink.GetStaticPad("sink"); pad != nil {
		pad.AddProbe(gst.PadProbeTypeEventDownstream, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
			c.onEvent(info.GetEvent())
			return gst.PadProbeOK
		})
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return c.OnNewSample(s)
		},
	})
}

func (c *SinkContext) onEvent(ev *gst.Event) {
	if ev == nil || ev.Type() != gst.EventTypeCaps {
		return
	}
	caps := ev.ParseCaps()
	if caps == nil || caps.GetSize() == 0 {
		return
	}
	st := caps.GetStructureAt(0)
	w, werr := st.GetValue("width")
	h, herr := st.GetValue("height")
	if werr != nil || herr != nil {
		return
	}
	width, wok := w.(int)
	height, hok := h.(int)
	if !wok || !hok {
		return
	}
	old, oldH, _ := c.Geometry.Load()
	c.Geometry.Store(width, height)
	if old != width || oldH != height {
		c.Logger.Info("video: frame geometry negotiated", "width", width, "height", height)
	}
}

// OnNewSample copies the current sample into an owned, tightly packed
// buffer and hands it to Deliver. Frames arriving before the geometry is
// known, or whose size disagrees with it, are skipped.
//
// Always returns gst.FlowOK: one bad frame must not stop the stream.
func (c *SinkContext) OnNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		c.Logger.Warn("video: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	width, height, ok := c.Geometry.Load()
	if !ok {
		c.skipped.Add(1)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	packed, ok := PackRGB(data, width, height)
	buffer.Unmap()
	if !ok {
		skipped := c.skipped.Add(1)
		c.Logger.Debug("video: frame size does not match geometry",
			"size", len(data), "width", width, "height", height, "skipped", skipped)
		return gst.FlowOK
	}

	c.bytes.Add(uint64(len(data)))
	frame := Frame{
		Seq:       c.frames.Add(1),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      packed,
		TraceID:   uuid.New().String(),
	}
	if c.Deliver != nil {
		c.Deliver(frame)
	}
	return gst.FlowOK
}

// RGBStride is the GStreamer row stride of an RGB frame: rows are padded to
// four bytes.
func RGBStride(width int) int {
	return (width*3 + 3) &^ 3
}

// PackRGB copies an RGB buffer into a new slice without row padding. ok is
// false when data is too short for the geometry.
func PackRGB(data []byte, width, height int) ([]byte, bool) {
	if width <= 0 || height <= 0 {
		return nil, false
	}
	row := width * 3
	stride := RGBStride(width)
	if len(data) == row*height {
		stride = row
	}
	if len(data) < stride*(height-1)+row {
		return nil, false
	}

	out := make([]byte, row*height)
	if stride == row {
		copy(out, data[:row*height])
		return out, true
	}
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, true
}
