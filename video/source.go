package video

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the UDP port the vehicle streams RTP to.
const DefaultPort = 5600

// ErrInvalidSource is returned for unusable stream sources.
var ErrInvalidSource = errors.New("video: invalid source")

// SourceKind is how the stream is received.
type SourceKind string

const (
	SourceUDP  SourceKind = "udp"
	SourceRTSP SourceKind = "rtsp"
)

// Source describes where the encoded stream comes from.
type Source struct {
	Kind     SourceKind
	Address  string // udp bind address, empty for any
	Port     int    // udp port
	Location string // rtsp URL
}

func (s Source) String() string {
	if s.Kind == SourceRTSP {
		return s.Location
	}
	return fmt.Sprintf("udp://%s:%d", s.Address, s.Port)
}

// ParseSource accepts a bare port ("5600"), udp://host:port, rtp://host:port
// or an rtsp:// URL. An empty string means UDP on DefaultPort.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{Kind: SourceUDP, Port: DefaultPort}, nil
	}
	if port, err := strconv.Atoi(raw); err == nil {
		if err := checkPort(port); err != nil {
			return Source{}, err
		}
		return Source{Kind: SourceUDP, Port: port}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %q: %v", ErrInvalidSource, raw, err)
	}

	switch u.Scheme {
	case "udp", "rtp":
		port := DefaultPort
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return Source{}, fmt.Errorf("%w: %q: bad port", ErrInvalidSource, raw)
			}
		}
		if err := checkPort(port); err != nil {
			return Source{}, err
		}
		host := u.Hostname()
		if host != "" && net.ParseIP(host) == nil {
			return Source{}, fmt.Errorf("%w: %q: udp address must be an IP", ErrInvalidSource, raw)
		}
		return Source{Kind: SourceUDP, Address: host, Port: port}, nil

	case "rtsp", "rtsps":
		if u.Host == "" {
			return Source{}, fmt.Errorf("%w: %q: missing host", ErrInvalidSource, raw)
		}
		return Source{Kind: SourceRTSP, Location: u.String()}, nil

	default:
		return Source{}, fmt.Errorf("%w: %q: scheme must be udp, rtp or rtsp", ErrInvalidSource, raw)
	}
}

func checkPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSource, p)
	}
	return nil
}

// RecordFileName names a recording after t in local time, with ':' replaced
// so the name is valid on every filesystem.
func RecordFileName(t time.Time) string {
	return strings.ReplaceAll(t.Local().Format("2006-01-02T15:04:05"), ":", "-") + ".mkv"
}
