// Package ingest implements the four drivers that each bring bytes into
// a staging path under the incoming root, emitting fetch-stage progress
// as they go. The multipart driver streams directly to disk; the
// remote/torrent/extractor drivers delegate to external binaries.
package ingest

import (
	"context"
	"io"
)

// ProgressFunc receives fetch-stage progress fractions in [0,1].
type ProgressFunc func(fraction float64)

// Result is what a successful Stage call produces.
type Result struct {
	// StagedPath is the local file path containing the fetched bytes.
	StagedPath string
}

// Driver is the shared contract every ingest source implements.
type Driver interface {
	Stage(ctx context.Context, onProgress ProgressFunc) (Result, error)
}

// CopyWithProgress streams src into dst, calling onProgress with
// bytesWritten/contentLength whenever contentLength is known and positive;
// otherwise it never calls onProgress; callers should still bump
// last_update on their own. This is the multipart driver's progress
// source.
func CopyWithProgress(dst io.Writer, src io.Reader, contentLength int64, onProgress ProgressFunc) (int64, error) {
	if contentLength <= 0 || onProgress == nil {
		return io.Copy(dst, src)
	}

	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			onProgress(clamp01(float64(written) / float64(contentLength)))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
