package ingest

import (
	"context"
	"fmt"

	"videoserver/internal/apperr"
	internalexec "videoserver/internal/exec"
	"videoserver/internal/exec/progress"
)

// RemoteDriver fetches url via the high-throughput downloader binary to
// get its range/resume logic for free.
type RemoteDriver struct {
	DownloaderBinary string
	URL              string
	StagingPath      string
}

func (d RemoteDriver) Stage(ctx context.Context, onProgress ProgressFunc) (Result, error) {
	sink := progress.Monotonic(func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	})
	parser := progress.AriaStyleProgress{Sink: sink}
	fallback := progress.DownloaderProgress{Sink: sink}

	args := []string{
		"--dir=.", "--out=" + d.StagingPath,
		"--allow-overwrite=true", "--continue=true",
		"--max-connection-per-server=4", "--summary-interval=1",
		d.URL,
	}

	outcome := internalexec.Run(ctx, internalexec.Spec{
		Binary: d.DownloaderBinary,
		Args:   args,
		OnStdoutLine: func(line string) {
			parser.Line(line)
			fallback.Line(line)
		},
	})

	if outcome.Kind != internalexec.ExitOK {
		return Result{}, apperr.Wrap(apperr.KindFetchFailed, fmt.Sprintf("downloader exited with %v", outcome.Kind), fmt.Errorf("%s", outcome.StderrTail))
	}
	return Result{StagedPath: d.StagingPath}, nil
}
