package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Progress receives the running byte count of a streamed payload.
type Progress func(sent, total int64)

// Stream sends method as a single streamed request: header encoded as one
// JSON line, then payload copied in ChunkSize pieces. progress is called
// after every chunk. The response is a regular JSON-RPC response used as
// the acknowledgement.
//
// Stream is bounded by ctx only; Options.Timeout does not apply.
func (c *Client) Stream(ctx context.Context, method string, header any, payload io.Reader, total int64, progress Progress) error {
	start := time.Now()
	err := c.stream(ctx, method, header, payload, total, progress)
	observe(method, start, err)
	return err
}

func (c *Client) stream(ctx context.Context, method string, header any, payload io.Reader, total int64, progress Progress) error {
	head, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("rpc: %s: encode header: %w", method, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeChunks(pw, head, payload, total, progress))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("rpc: %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(MethodHeader, method)

	resp, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc: %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s: http status %d", method, resp.StatusCode)
	}

	var ack wireResponse
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("rpc: %s: decode ack: %w", method, err)
	}
	if ack.Error != nil {
		return newError(method, ack.Error)
	}
	return nil
}

func writeChunks(w io.Writer, head []byte, payload io.Reader, total int64, progress Progress) error {
	if _, err := w.Write(append(head, '\n')); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(payload, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			sent += int64(n)
			if progress != nil {
				progress(sent, total)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if total > 0 && sent != total {
		return fmt.Errorf("rpc: payload length %d does not match declared size %d", sent, total)
	}
	return nil
}
