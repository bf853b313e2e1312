package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEndOfStream is returned by Monitor when the pipeline posts EOS.
var ErrEndOfStream = errors.New("pipeline: end of stream")

// Monitor polls the pipeline bus until ctx is cancelled or the pipeline
// fails.
//
// Returns nil on cancellation, ErrEndOfStream on EOS and a *BusError for any
// error message. onError, when set, sees every error before Monitor returns so
// callers can count categories.
func Monitor(ctx context.Context, p *gst.Pipeline, logger *slog.Logger, onError func(*BusError)) error {
	bus := p.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("video: context cancelled, stopping bus monitor")
			return nil
		default:
		}

		// Short timeout keeps shutdown responsive.
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			logger.Info("video: end of stream received")
			return ErrEndOfStream

		case gst.MessageError:
			gerr := msg.ParseError()
			busErr := &BusError{
				Category: Classify(gerr),
				Source:   msg.Source(),
			}
			if gerr != nil {
				busErr.Message = gerr.Error()
				busErr.Debug = gerr.DebugString()
			}
			logger.Error("video: pipeline error",
				"error", busErr.Message,
				"debug", busErr.Debug,
				"source", busErr.Source,
				"category", busErr.Category.String(),
			)
			if onError != nil {
				onError(busErr)
			}
			return busErr

		case gst.MessageWarning:
			if gerr := msg.ParseWarning(); gerr != nil {
				logger.Warn("video: pipeline warning", "warning", gerr.Error(), "source", msg.Source())
			}

		case gst.MessageStateChanged:
			if msg.Source() == p.GetName() {
				old, new := msg.ParseStateChanged()
				logger.Debug("video: pipeline state changed", "from", old, "to", new)
			}
		}
	}
}
