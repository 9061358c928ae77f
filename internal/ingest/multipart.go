package ingest

import (
	"context"
	"io"
	"os"

	"videoserver/internal/apperr"
)

// MultipartDriver stream-copies the first uploaded file part to a staging
// path. No size limit is enforced at this layer; backpressure is however
// fast the caller's file descriptor drains.
type MultipartDriver struct {
	Part          io.Reader
	ContentLength int64
	StagingPath   string
}

func (d MultipartDriver) Stage(ctx context.Context, onProgress ProgressFunc) (Result, error) {
	out, err := os.Create(d.StagingPath)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindIOError, "creating staging file", err)
	}
	defer out.Close()

	written, err := CopyWithProgress(out, d.Part, d.ContentLength, onProgress)
	if err != nil {
		_ = os.Remove(d.StagingPath)
		return Result{}, apperr.Wrap(apperr.KindIOError, "writing staged upload", err)
	}
	if written == 0 {
		_ = os.Remove(d.StagingPath)
		return Result{}, apperr.New(apperr.KindBadRequest, "empty upload")
	}

	return Result{StagedPath: d.StagingPath}, nil
}
