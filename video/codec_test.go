package video

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecoderElement(t *testing.T) {
	tests := []struct {
		dec  Decoder
		want string
	}{
		{Decoder{H264, ProviderAVCodec}, "avdec_h264"},
		{Decoder{H265, ProviderNVCodec}, "nvh265dec"},
		{Decoder{VP9, ProviderVAAPI}, "vaapivp9dec"},
		{Decoder{AV1, ProviderD3D11}, "d3d11av1dec"},
		{Decoder{VP8, ProviderNative}, "vp8dec"},
	}
	for _, tt := range tests {
		if got := tt.dec.Element(); got != tt.want {
			t.Errorf("%s.Element() = %q, want %q", tt.dec, got, tt.want)
		}
	}
}

func TestEncoderElement(t *testing.T) {
	tests := []struct {
		enc  Encoder
		want string
	}{
		{Encoder{H264, ProviderNative}, "x264enc"},
		{Encoder{H265, ProviderNative}, "x265enc"},
		{Encoder{VP8, ProviderNative}, "vp8enc"},
		{Encoder{H264, ProviderNVCodec}, "nvh264enc"},
		{Encoder{H264, ProviderAVCodec}, "avenc_h264"},
	}
	for _, tt := range tests {
		if got := tt.enc.Element(); got != tt.want {
			t.Errorf("%s.Element() = %q, want %q", tt.enc, got, tt.want)
		}
	}
}

func TestCodecElements(t *testing.T) {
	if got := H265.Depayloader(); got != "rtph265depay" {
		t.Errorf("depay = %q", got)
	}
	if got := VP8.Parser(); got != "" {
		t.Errorf("vp8 parser = %q, want none", got)
	}
	if got := H264.Parser(); got != "h264parse" {
		t.Errorf("h264 parser = %q", got)
	}
	if caps := VP9.RTPCaps(); !strings.Contains(caps, "encoding-name=(string)VP9") {
		t.Errorf("caps = %q", caps)
	}
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"H264": H264, "hevc": H265, " vp9 ": VP9, "AV1": AV1} {
		got, err := ParseCodec(in)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCodec("mjpeg"); err == nil {
		t.Error("mjpeg should be rejected")
	}
	if _, err := ParseProvider("opencl"); err == nil {
		t.Error("unknown provider should be rejected")
	}
	if c, err := ParseColorspaceConversion(""); err != nil || c != ConvertCPU {
		t.Errorf("empty conversion = %q, %v", c, err)
	}
}

func TestColorspaceElements(t *testing.T) {
	if got := ConvertCUDA.Elements(); len(got) != 3 || got[1] != "cudaconvert" {
		t.Errorf("cuda = %v", got)
	}
	if got := ConvertCPU.Elements(); len(got) != 1 || got[0] != "videoconvert" {
		t.Errorf("cpu = %v", got)
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in   string
		want Source
		err  bool
	}{
		{"", Source{Kind: SourceUDP, Port: 5600}, false},
		{"5601", Source{Kind: SourceUDP, Port: 5601}, false},
		{"rtp://0.0.0.0:5600", Source{Kind: SourceUDP, Address: "0.0.0.0", Port: 5600}, false},
		{"udp://239.0.0.1:5000", Source{Kind: SourceUDP, Address: "239.0.0.1", Port: 5000}, false},
		{"udp://", Source{Kind: SourceUDP, Port: 5600}, false},
		{"rtsp://192.168.1.10:8554/live", Source{Kind: SourceRTSP, Location: "rtsp://192.168.1.10:8554/live"}, false},
		{"70000", Source{}, true},
		{"udp://vehicle.local:5600", Source{}, true},
		{"http://x:1", Source{}, true},
		{"rtsp://", Source{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidSource) {
				t.Errorf("ParseSource(%q) err = %v, want ErrInvalidSource", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseSource(%q) = %+v, %v; want %+v", tt.in, got, err, tt.want)
		}
	}
}

func TestRecordFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	if got := RecordFileName(ts); got != "2024-03-09T14-05-07.mkv" {
		t.Errorf("RecordFileName = %q", got)
	}
}

func TestCalculateRateStats(t *testing.T) {
	start := time.Now()
	var times []time.Time
	for i := 0; i < 31; i++ {
		times = append(times, start.Add(time.Duration(i)*time.Second/30))
	}
	s := CalculateRateStats(times)
	if s.FPSMean < 29.9 || s.FPSMean > 30.1 {
		t.Errorf("FPSMean = %.2f, want 30", s.FPSMean)
	}
	if !s.Stable {
		t.Error("uniform stream should be stable")
	}
	if s.JitterMax > 0.001 {
		t.Errorf("JitterMax = %f", s.JitterMax)
	}

	if got := CalculateRateStats(times[:1]); got.Frames != 1 || got.FPSMean != 0 {
		t.Errorf("single frame stats = %+v", got)
	}
}

func TestRateTracker_Wraps(t *testing.T) {
	r := newRateTracker()
	start := time.Now()
	for i := 0; i < frameWindow+10; i++ {
		r.add(start.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	s := r.stats()
	if s.Frames != frameWindow {
		t.Errorf("Frames = %d, want %d", s.Frames, frameWindow)
	}
	if s.FPSMean < 99 || s.FPSMean > 101 {
		t.Errorf("FPSMean = %.2f, want 100", s.FPSMean)
	}
}
