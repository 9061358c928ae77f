package ingest

import (
	"context"
	"fmt"

	"videoserver/internal/apperr"
	internalexec "videoserver/internal/exec"
	"videoserver/internal/exec/progress"
)

// ExtractorDriver delegates to a site-specific extractor binary (a
// yt-dlp-shaped CLI), grounded on cwpearson-ytdlp-site's ytdlp package.
type ExtractorDriver struct {
	ExtractorBinary string
	URL             string
	StagingPath     string
}

func (d ExtractorDriver) Stage(ctx context.Context, onProgress ProgressFunc) (Result, error) {
	sink := progress.Monotonic(func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	})
	parser := progress.DownloaderProgress{Sink: sink}

	args := []string{
		"--no-playlist", "--no-part",
		"-f", "bestvideo+bestaudio/best",
		"-o", d.StagingPath,
		d.URL,
	}

	outcome := internalexec.Run(ctx, internalexec.Spec{
		Binary:       d.ExtractorBinary,
		Args:         args,
		OnStdoutLine: parser.Line,
	})
	if outcome.Kind != internalexec.ExitOK {
		return Result{}, apperr.Wrap(apperr.KindFetchFailed, fmt.Sprintf("extractor exited with %v", outcome.Kind), fmt.Errorf("%s", outcome.StderrTail))
	}
	return Result{StagedPath: d.StagingPath}, nil
}
