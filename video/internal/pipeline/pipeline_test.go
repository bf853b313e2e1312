package pipeline

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestPackRGB(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		data          []byte
		want          []byte
		ok            bool
	}{
		{
			name:  "tight rows",
			width: 2, height: 2,
			data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			want: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			ok:   true,
		},
		{
			name:  "padded rows",
			width: 1, height: 2,
			data: []byte{1, 2, 3, 0, 4, 5, 6, 0},
			want: []byte{1, 2, 3, 4, 5, 6},
			ok:   true,
		},
		{
			name:  "padding omitted on last row",
			width: 1, height: 2,
			data: []byte{1, 2, 3, 0, 4, 5, 6},
			want: []byte{1, 2, 3, 4, 5, 6},
			ok:   true,
		},
		{
			name:  "short buffer",
			width: 4, height: 4,
			data: make([]byte, 10),
		},
		{
			name:  "unknown geometry",
			width: 0, height: 0,
			data: []byte{1, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PackRGB(tt.data, tt.width, tt.height)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPackRGB_CopiesData(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	got, ok := PackRGB(data, 2, 1)
	if !ok {
		t.Fatal("PackRGB failed")
	}
	data[0] = 99
	if got[0] != 1 {
		t.Error("PackRGB must not alias the mapped buffer")
	}
}

func TestGeometry(t *testing.T) {
	var g Geometry
	if _, _, ok := g.Load(); ok {
		t.Fatal("zero Geometry should be unknown")
	}
	g.Store(1920, 1080)
	w, h, ok := g.Load()
	if !ok || w != 1920 || h != 1080 {
		t.Errorf("Load = %d,%d,%v", w, h, ok)
	}
	g.Reset()
	if _, _, ok := g.Load(); ok {
		t.Error("Reset should forget geometry")
	}
}

func TestClassifyText(t *testing.T) {
	tests := []struct {
		msg, debug string
		want       ErrorCategory
	}{
		{"Could not open file \"/rec/a.mkv\" for writing.", "gstfilesink.c", CategoryStorage},
		{"Internal data stream error.", "streaming stopped, reason not-negotiated (not negotiated)", CategoryCodec},
		{"Could not get/set settings from/on resource.", "Error binding to address: Address already in use", CategoryNetwork},
		{"Unhandled error", "", CategoryUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyText(tt.msg, tt.debug); got != tt.want {
			t.Errorf("ClassifyText(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestCapabilityError(t *testing.T) {
	inner := errors.New("no such element factory")
	err := error(&CapabilityError{Element: "nvh264dec", Err: inner})

	var capErr *CapabilityError
	if !errors.As(err, &capErr) || capErr.Element != "nvh264dec" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !errors.Is(err, inner) {
		t.Error("CapabilityError should unwrap")
	}
}

func TestBuild_MissingElement(t *testing.T) {
	for _, f := range []string{"udpsrc", "rtph264depay", "tee", "queue"} {
		if !Available(f) {
			t.Skipf("GStreamer element %s not available", f)
		}
	}

	cfg := Config{
		SourceKind:  SourceUDP,
		Port:        5999,
		RTPCaps:     "application/x-rtp, media=(string)video, encoding-name=(string)H264",
		Depayloader: "rtph264depay",
		Decoder:     "definitely_not_a_decoder",
		Colorspace:  []string{"videoconvert"},
	}
	_, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var capErr *CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Build error = %v, want *CapabilityError", err)
	}
	if capErr.Element != "definitely_not_a_decoder" {
		t.Errorf("Element = %q", capErr.Element)
	}
}
