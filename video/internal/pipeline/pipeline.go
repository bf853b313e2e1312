package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Source kinds understood by Build.
const (
	SourceUDP  = "udp"
	SourceRTSP = "rtsp"
)

// Config describes the receive/decode graph. Element fields hold GStreamer
// factory names.
type Config struct {
	SourceKind string
	Address    string
	Port       int
	Location   string
	RTPCaps    string

	Depayloader string
	Parser      string // empty when the codec has no parser
	Decoder     string
	Colorspace  []string

	// LeakyQueue drops old decoded frames when the display side falls
	// behind instead of back-pressuring the decoder.
	LeakyQueue bool
}

// Elements holds the elements later stages need to reach.
type Elements struct {
	Pipeline   *gst.Pipeline
	Source     *gst.Element
	Depay      *gst.Element
	RawTee     *gst.Element // encoded stream, feeds copy recordings
	DecodedTee *gst.Element // raw video, feeds encode recordings
	AppSink    *app.Sink
}

// Init initializes GStreamer. Safe to call more than once.
func Init() { gst.Init(nil) }

// Available reports whether the element factory exists.
func Available(factory string) bool {
	Init()
	_, err := gst.NewElement(factory)
	return err == nil
}

// NewElement creates an element, wrapping failures in *CapabilityError.
func NewElement(factory string) (*gst.Element, error) {
	elem, err := gst.NewElement(factory)
	if err != nil {
		return nil, &CapabilityError{Element: factory, Err: err}
	}
	return elem, nil
}

// Build creates the pipeline
//
//	source → depay → tee(raw) → queue → [parse] → decoder → tee(decoded) →
//	queue → colorspace… → capsfilter(RGB) → appsink
//
// The pipeline is configured but left in NULL. Any missing element factory
// fails the whole build with *CapabilityError.
func Build(cfg Config, logger *slog.Logger) (*Elements, error) {
	Init()

	p, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("video: create pipeline: %w", err)
	}

	var source *gst.Element
	switch cfg.SourceKind {
	case SourceRTSP:
		if source, err = NewElement("rtspsrc"); err != nil {
			return nil, err
		}
		source.SetProperty("location", cfg.Location)
		source.SetProperty("latency", 0)
	case SourceUDP, "":
		if source, err = NewElement("udpsrc"); err != nil {
			return nil, err
		}
		source.SetProperty("port", cfg.Port)
		if cfg.Address != "" {
			source.SetProperty("address", cfg.Address)
		}
		source.SetProperty("caps", gst.NewCapsFromString(cfg.RTPCaps))
	default:
		return nil, fmt.Errorf("video: unknown source kind %q", cfg.SourceKind)
	}

	names := []string{cfg.Depayloader, "tee", "queue"}
	if cfg.Parser != "" {
		names = append(names, cfg.Parser)
	}
	names = append(names, cfg.Decoder, "tee", "queue")
	names = append(names, cfg.Colorspace...)
	names = append(names, "capsfilter")

	chain := make([]*gst.Element, 0, len(names)+1)
	for _, name := range names {
		elem, err := NewElement(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, elem)
	}

	depay := chain[0]
	rawTee := chain[1]
	decodeIdx := 3
	if cfg.Parser != "" {
		decodeIdx = 4
	}
	decodedTee := chain[decodeIdx+1]
	displayQueue := chain[decodeIdx+2]
	capsfilter := chain[len(chain)-1]

	// The decoded tee keeps flowing even with no recording attached.
	rawTee.SetProperty("allow-not-linked", true)
	decodedTee.SetProperty("allow-not-linked", true)
	if cfg.LeakyQueue {
		displayQueue.SetProperty("leaky", 2) // downstream: drop oldest
		displayQueue.SetProperty("max-size-buffers", 2)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGB"))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, &CapabilityError{Element: "appsink", Err: err}
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	chain = append(chain, appsink.Element)

	if err := p.Add(source); err != nil {
		return nil, fmt.Errorf("video: add source: %w", err)
	}
	if err := p.AddMany(chain...); err != nil {
		return nil, fmt.Errorf("video: add elements: %w", err)
	}

	if cfg.SourceKind == SourceRTSP {
		// rtspsrc pads appear once the session is negotiated.
		source.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			onPadAdded(srcPad, depay, logger)
		})
	} else if err := source.Link(depay); err != nil {
		return nil, fmt.Errorf("video: link source: %w", err)
	}

	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("video: link elements: %w", err)
	}

	logger.Debug("video: pipeline built",
		"source", cfg.SourceKind,
		"depay", cfg.Depayloader,
		"parser", cfg.Parser,
		"decoder", cfg.Decoder,
		"colorspace", cfg.Colorspace,
		"leaky", cfg.LeakyQueue,
	)

	return &Elements{
		Pipeline:   p,
		Source:     source,
		Depay:      depay,
		RawTee:     rawTee,
		DecodedTee: decodedTee,
		AppSink:    appsink,
	}, nil
}

// Play sets the pipeline to PLAYING.
func Play(e *Elements) error {
	if err := e.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("video: set pipeline playing: %w", err)
	}
	return nil
}

// Destroy sets the pipeline to NULL. Safe on a nil or already destroyed
// pipeline.
func Destroy(e *Elements) error {
	if e == nil || e.Pipeline == nil {
		return nil
	}
	if err := e.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("video: set pipeline to NULL: %w", err)
	}
	return nil
}

func onPadAdded(srcPad *gst.Pad, depay *gst.Element, logger *slog.Logger) {
	sinkPad := depay.GetStaticPad("sink")
	if sinkPad == nil {
		logger.Error("video: depayloader has no sink pad")
		return
	}
	if sinkPad.IsLinked() {
		logger.Debug("video: ignoring extra rtsp pad", "pad", srcPad.GetName())
		return
	}
	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		logger.Error("video: failed to link rtsp pad", "src_pad", srcPad.GetName(), "ret", ret)
		return
	}
	logger.Debug("video: rtsp pad linked", "src_pad", srcPad.GetName())
}
