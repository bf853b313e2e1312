package video

import "github.com/e7canasta/rov-host/video/internal/pipeline"

// ProbeResult reports whether one element factory is installed.
type ProbeResult struct {
	Role      string // "decoder", "encoder", "depayloader" or "colorspace"
	Codec     Codec
	Provider  Provider
	Element   string
	Available bool
}

// Probe checks every codec/provider combination plus the depayloaders and
// colorspace converters against the local GStreamer registry.
func Probe() []ProbeResult {
	var out []ProbeResult
	for _, c := range codecs {
		out = append(out, probe("depayloader", c, "", c.Depayloader()))
		for _, p := range providers {
			out = append(out, probe("decoder", c, p, Decoder{Codec: c, Provider: p}.Element()))
			out = append(out, probe("encoder", c, p, Encoder{Codec: c, Provider: p}.Element()))
		}
	}
	for _, conv := range conversions {
		for _, elem := range conv.Elements() {
			out = append(out, probe("colorspace", "", Provider(conv), elem))
		}
	}
	return out
}

// Available reports whether the named element factory is installed.
func Available(element string) bool {
	return pipeline.Available(element)
}

func probe(role string, c Codec, p Provider, element string) ProbeResult {
	return ProbeResult{Role: role, Codec: c, Provider: p, Element: element, Available: pipeline.Available(element)}
}
