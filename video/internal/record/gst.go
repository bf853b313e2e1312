package record

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/rov-host/video/internal/pipeline"
)

// ErrLink is returned when a branch cannot be linked into the pipeline.
var ErrLink = errors.New("record: link failed")

// Spec describes the element chain of a recording branch. Encode is empty
// for copy recordings taken from the encoded tee.
type Spec struct {
	Path   string
	Encode []string // converter and encoder factories
	Parser string
	Muxer  string
}

// DefaultMuxer writes Matroska.
const DefaultMuxer = "matroskamux"

type gstBranch struct {
	pipeline *gst.Pipeline
	tee      *gst.Element
	teePad   *gst.Pad
	sinkPad  *gst.Pad
	elements []*gst.Element
	logger   *slog.Logger

	mu       sync.Mutex
	unlinked bool
}

// NewGstBranch builds queue → [encode…] → [parser] → muxer → filesink, adds
// it to p, brings it to the pipeline's state and links it to a new request
// pad on tee. Any failure removes what was added.
func NewGstBranch(p *gst.Pipeline, tee *gst.Element, spec Spec, logger *slog.Logger) (Branch, error) {
	muxer := spec.Muxer
	if muxer == "" {
		muxer = DefaultMuxer
	}

	names := []string{"queue"}
	names = append(names, spec.Encode...)
	if spec.Parser != "" {
		names = append(names, spec.Parser)
	}
	names = append(names, muxer, "filesink")

	elements := make([]*gst.Element, 0, len(names))
	for _, name := range names {
		elem, err := pipeline.NewElement(name)
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)
	}
	elements[len(elements)-1].SetProperty("location", spec.Path)
	elements[len(elements)-1].SetProperty("async", false)

	if err := p.AddMany(elements...); err != nil {
		return nil, fmt.Errorf("%w: add elements: %v", ErrLink, err)
	}
	b := &gstBranch{pipeline: p, tee: tee, elements: elements, logger: logger}

	if err := gst.ElementLinkMany(elements...); err != nil {
		b.remove()
		return nil, fmt.Errorf("%w: %v", ErrLink, err)
	}

	for _, elem := range elements {
		if !elem.SyncStateWithParent() {
			b.remove()
			return nil, fmt.Errorf("%w: %s could not reach pipeline state", ErrLink, elem.GetName())
		}
	}

	b.sinkPad = elements[0].GetStaticPad("sink")
	b.teePad = tee.GetRequestPad("src_%u")
	if b.teePad == nil || b.sinkPad == nil {
		b.remove()
		return nil, fmt.Errorf("%w: no tee request pad", ErrLink)
	}
	if ret := b.teePad.Link(b.sinkPad); ret != gst.PadLinkOK {
		tee.ReleaseRequestPad(b.teePad)
		b.remove()
		return nil, fmt.Errorf("%w: tee pad link returned %v", ErrLink, ret)
	}

	logger.Debug("video: record branch linked", "path", spec.Path, "elements", names)
	return b, nil
}

func (b *gstBranch) Unlink() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlinked {
		return nil
	}
	if !b.teePad.Unlink(b.sinkPad) {
		return fmt.Errorf("%w: could not unlink tee pad", ErrLink)
	}
	b.tee.ReleaseRequestPad(b.teePad)
	b.unlinked = true
	return nil
}

func (b *gstBranch) OnEOS(fn func()) {
	last := b.elements[len(b.elements)-1]
	pad := last.GetStaticPad("sink")
	if pad == nil {
		return
	}
	pad.AddProbe(gst.PadProbeTypeEventDownstream, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		if ev := info.GetEvent(); ev != nil && ev.Type() == gst.EventTypeEOS {
			fn()
			return gst.PadProbeRemove
		}
		return gst.PadProbeOK
	})
}

func (b *gstBranch) SendEOS() error {
	if !b.sinkPad.SendEvent(gst.NewEOSEvent()) {
		return errors.New("record: branch refused EOS")
	}
	return nil
}

func (b *gstBranch) Teardown() error {
	var errs []error
	for _, elem := range b.elements {
		if err := elem.SetState(gst.StateNull); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", elem.GetName(), err))
		}
	}
	if err := b.pipeline.RemoveMany(b.elements...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *gstBranch) remove() {
	for _, elem := range b.elements {
		_ = elem.SetState(gst.StateNull)
	}
	if err := b.pipeline.RemoveMany(b.elements...); err != nil {
		b.logger.Warn("video: failed to remove record elements", "error", err)
	}
}
