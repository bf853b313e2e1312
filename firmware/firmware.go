// Package firmware pushes a firmware image to the vehicle.
//
// The upload is one streamed update_firmware request: a JSON header line
// {"firmware_update":{"size":N,"compression":"...","md5":"..."}} followed
// by the payload in 1024-byte chunks. size and md5 describe the payload as
// transmitted, after compression. The upload runs under Session.BlockOn so
// polling and control traffic pause until it finishes.
package firmware

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/e7canasta/rov-host/internal/metrics"
	"github.com/e7canasta/rov-host/internal/rpc"
	"github.com/e7canasta/rov-host/session"
)

// Compression names the payload encoding announced in the header.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression accepts "", "none", "gzip" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("firmware: unknown compression %q (must be none, gzip or zstd)", s)
	}
}

// ErrEmptyImage is returned for zero-length firmware files.
var ErrEmptyImage = errors.New("firmware: image is empty")

// Info is the header announced before the payload.
type Info struct {
	Size        int64       `json:"size"`
	Compression Compression `json:"compression"`
	MD5         string      `json:"md5"`
}

// Header wraps Info the way the vehicle expects it.
type Header struct {
	FirmwareUpdate Info `json:"firmware_update"`
}

// Progress is reported after every chunk. Fraction is in [0, 1].
type Progress struct {
	Sent     int64
	Total    int64
	Fraction float64
}

// Image is a prepared payload ready to stream.
type Image struct {
	Payload []byte
	Info    Info
	RawSize int64
}

// Prepare reads the firmware from r and encodes it with c.
func Prepare(r io.Reader, c Compression) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("firmware: read image: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyImage
	}
	if c == "" {
		c = CompressionNone
	}

	payload, err := compress(raw, c)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(payload)
	return &Image{
		Payload: payload,
		RawSize: int64(len(raw)),
		Info: Info{
			Size:        int64(len(payload)),
			Compression: c,
			MD5:         hex.EncodeToString(sum[:]),
		},
	}, nil
}

// PrepareFile is Prepare on the file at path.
func PrepareFile(path string, c Compression) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	defer f.Close()
	return Prepare(f, c)
}

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return raw, nil

	case CompressionGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("firmware: gzip: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("firmware: gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("firmware: gzip: %w", err)
		}
		return buf.Bytes(), nil

	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("firmware: zstd: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil

	default:
		return nil, fmt.Errorf("firmware: unknown compression %q", c)
	}
}

// Send streams img over client. Use Upload to run it under a session.
func Send(ctx context.Context, client *rpc.Client, img *Image, progress func(Progress)) error {
	header := Header{FirmwareUpdate: img.Info}
	var last int64
	err := client.Stream(ctx, rpc.MethodUpdateFirmware, header,
		bytes.NewReader(img.Payload), img.Info.Size,
		func(sent, total int64) {
			metrics.FirmwareBytesSent.Add(float64(sent - last))
			last = sent
			if progress != nil {
				progress(Progress{Sent: sent, Total: total, Fraction: float64(sent) / float64(total)})
			}
		})
	if err != nil {
		return fmt.Errorf("firmware: upload: %w", err)
	}
	return nil
}

// Upload sends img with exclusive use of the session's RPC channel.
// It fails with session.ErrBusy if another blocking operation is running.
func Upload(ctx context.Context, s *session.Session, img *Image, progress func(Progress)) error {
	logger := slog.Default().With("component", "firmware", "vehicle", s.Vehicle())
	logger.Info("firmware: upload starting",
		"size", img.Info.Size,
		"raw_size", img.RawSize,
		"compression", img.Info.Compression,
		"md5", img.Info.MD5,
	)

	err := s.BlockOn(ctx, func(ctx context.Context, client *rpc.Client) error {
		return Send(ctx, client, img, progress)
	})
	if err != nil {
		logger.Error("firmware: upload failed", "error", err)
		return err
	}
	logger.Info("firmware: upload complete")
	return nil
}
