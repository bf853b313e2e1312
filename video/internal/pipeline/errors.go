package pipeline

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies bus errors for telemetry and operator messages.
type ErrorCategory int

const (
	// CategoryNetwork covers socket, timeout and RTSP transport failures.
	CategoryNetwork ErrorCategory = iota
	// CategoryCodec covers negotiation and decode failures.
	CategoryCodec
	// CategoryStorage covers recording sink failures (disk full, permissions).
	CategoryStorage
	// CategoryUnknown is everything else.
	CategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryCodec:
		return "codec"
	case CategoryStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// CapabilityError reports that a required element factory is not installed.
type CapabilityError struct {
	Element string
	Err     error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("gstreamer element %q is not available: %v", e.Element, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// BusError is an error message popped from the pipeline bus.
type BusError struct {
	Category ErrorCategory
	Source   string
	Message  string
	Debug    string
}

func (e *BusError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("pipeline error [%s] from %s: %s", e.Category, e.Source, e.Message)
	}
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

// Classify categorizes an error by keywords in its message and debug string.
// go-gst's GError does not expose the error domain, so string matching is
// all there is.
func Classify(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return CategoryUnknown
	}
	return ClassifyText(gerr.Error(), gerr.DebugString())
}

// ClassifyText is Classify for already extracted strings.
func ClassifyText(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, storageKeywords):
		return CategoryStorage
	case containsAny(combined, codecKeywords):
		return CategoryCodec
	case containsAny(combined, networkKeywords):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

var (
	storageKeywords = []string{
		"no space left",
		"could not open file",
		"could not write",
		"permission denied",
		"filesink",
		"read-only file system",
	}
	codecKeywords = []string{
		"codec",
		"decode",
		"encode",
		"format",
		"negotiation",
		"not negotiated",
		"caps",
		"h264",
		"h265",
		"vp8",
		"vp9",
		"av1",
		"no decoder",
		"missing plugin",
	}
	networkKeywords = []string{
		"connection",
		"timeout",
		"unreachable",
		"network",
		"resolve",
		"socket",
		"tcp",
		"udp",
		"rtsp",
		"could not connect",
		"failed to connect",
		"address already in use",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
