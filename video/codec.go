package video

import (
	"fmt"
	"strings"
)

// Codec is a video compression format carried over RTP.
type Codec string

const (
	H264 Codec = "h264"
	H265 Codec = "h265"
	VP8  Codec = "vp8"
	VP9  Codec = "vp9"
	AV1  Codec = "av1"
)

// Provider is the plugin family implementing a codec.
type Provider string

const (
	ProviderNative  Provider = "native"
	ProviderAVCodec Provider = "avcodec"
	ProviderNVCodec Provider = "nvcodec"
	ProviderVAAPI   Provider = "vaapi"
	ProviderD3D11   Provider = "d3d11"
)

// ColorspaceConversion selects where decoded frames are converted to RGB.
type ColorspaceConversion string

const (
	ConvertCPU   ColorspaceConversion = "cpu"
	ConvertCUDA  ColorspaceConversion = "cuda"
	ConvertD3D11 ColorspaceConversion = "d3d11"
)

var (
	codecs      = []Codec{H264, H265, VP8, VP9, AV1}
	providers   = []Provider{ProviderNative, ProviderAVCodec, ProviderNVCodec, ProviderVAAPI, ProviderD3D11}
	conversions = []ColorspaceConversion{ConvertCPU, ConvertCUDA, ConvertD3D11}
)

// Codecs lists the supported codecs.
func Codecs() []Codec { return append([]Codec(nil), codecs...) }

// Providers lists the supported providers.
func Providers() []Provider { return append([]Provider(nil), providers...) }

// ParseCodec accepts a codec name, case-insensitive. "h.264" and "hevc" are
// accepted as aliases.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "h.264", "avc":
		return H264, nil
	case "h265", "h.265", "hevc":
		return H265, nil
	case "vp8":
		return VP8, nil
	case "vp9":
		return VP9, nil
	case "av1":
		return AV1, nil
	default:
		return "", fmt.Errorf("video: unknown codec %q", s)
	}
}

// ParseProvider accepts a provider name, case-insensitive.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("video: unknown provider %q", s)
}

// ParseColorspaceConversion accepts cpu, cuda or d3d11; empty means cpu.
func ParseColorspaceConversion(s string) (ColorspaceConversion, error) {
	if s == "" {
		return ConvertCPU, nil
	}
	c := ColorspaceConversion(strings.ToLower(s))
	for _, known := range conversions {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("video: unknown colorspace conversion %q", s)
}

// Depayloader returns the RTP depayloader element for c.
func (c Codec) Depayloader() string {
	return "rtp" + string(c) + "depay"
}

// Parser returns the bitstream parser for c, or "" when none is needed.
func (c Codec) Parser() string {
	switch c {
	case H264, H265, VP9, AV1:
		return string(c) + "parse"
	default:
		return ""
	}
}

// EncodingName is the RTP encoding-name caps field for c.
func (c Codec) EncodingName() string {
	return strings.ToUpper(string(c))
}

// RTPCaps describes the RTP stream udpsrc should announce.
func (c Codec) RTPCaps() string {
	return fmt.Sprintf("application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)%s", c.EncodingName())
}

// Decoder selects a decode element.
type Decoder struct {
	Codec    Codec
	Provider Provider
}

// Encoder selects an encode element for recording.
type Encoder struct {
	Codec    Codec
	Provider Provider
}

// DefaultDecoder is software H.264 from libav.
func DefaultDecoder() Decoder {
	return Decoder{Codec: H264, Provider: ProviderAVCodec}
}

// DefaultEncoder is x264.
func DefaultEncoder() Encoder {
	return Encoder{Codec: H264, Provider: ProviderNative}
}

func (d Decoder) String() string { return string(d.Codec) + "/" + string(d.Provider) }
func (e Encoder) String() string { return string(e.Codec) + "/" + string(e.Provider) }

// Element returns the GStreamer factory name of the decoder.
func (d Decoder) Element() string {
	return elementName(d.Codec, d.Provider, "dec")
}

// Element returns the GStreamer factory name of the encoder.
func (e Encoder) Element() string {
	if e.Provider == ProviderNative {
		switch e.Codec {
		case H264:
			return "x264enc"
		case H265:
			return "x265enc"
		}
	}
	return elementName(e.Codec, e.Provider, "enc")
}

func elementName(c Codec, p Provider, role string) string {
	switch p {
	case ProviderAVCodec:
		return "av" + role + "_" + string(c)
	case ProviderNVCodec:
		return "nv" + string(c) + role
	case ProviderVAAPI:
		return "vaapi" + string(c) + role
	case ProviderD3D11:
		return "d3d11" + string(c) + role
	default:
		return string(c) + role
	}
}

// Elements returns the element chain that converts decoded frames into
// system memory ready for RGB conversion.
func (c ColorspaceConversion) Elements() []string {
	switch c {
	case ConvertCUDA:
		return []string{"cudaupload", "cudaconvert", "cudadownload"}
	case ConvertD3D11:
		return []string{"d3d11upload", "d3d11convert", "d3d11download"}
	default:
		return []string{"videoconvert"}
	}
}
