package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"videoserver/internal/apperr"
	internalexec "videoserver/internal/exec"
	"videoserver/internal/exec/progress"
)

// TorrentDriver fetches magnetOrTorrentURL via the same downloader binary
// as RemoteDriver with its torrent options enabled, then picks the
// largest completed file from the session directory as the staged
// output, for torrents that resolve to multiple files.
type TorrentDriver struct {
	DownloaderBinary  string
	MagnetOrTorrentURL string
	SessionDir        string
	StagingPath       string
}

func (d TorrentDriver) Stage(ctx context.Context, onProgress ProgressFunc) (Result, error) {
	if err := os.MkdirAll(d.SessionDir, 0o755); err != nil {
		return Result{}, apperr.Wrap(apperr.KindIOError, "creating torrent session dir", err)
	}

	sink := progress.Monotonic(func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	})
	parser := progress.AriaStyleProgress{Sink: sink}

	args := []string{
		"--dir=" + d.SessionDir,
		"--seed-time=0", "--bt-stop-timeout=600",
		"--follow-torrent=mem", "--summary-interval=1",
		d.MagnetOrTorrentURL,
	}

	outcome := internalexec.Run(ctx, internalexec.Spec{
		Binary:       d.DownloaderBinary,
		Args:         args,
		OnStdoutLine: parser.Line,
	})
	if outcome.Kind != internalexec.ExitOK {
		return Result{}, apperr.Wrap(apperr.KindFetchFailed, fmt.Sprintf("torrent fetch exited with %v", outcome.Kind), fmt.Errorf("%s", outcome.StderrTail))
	}

	largest, err := largestFile(d.SessionDir)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindFetchFailed, "no downloaded file found in torrent session", err)
	}

	if err := os.Rename(largest, d.StagingPath); err != nil {
		return Result{}, apperr.Wrap(apperr.KindIOError, "moving torrent output to staging", err)
	}
	return Result{StagedPath: d.StagingPath}, nil
}

func largestFile(root string) (string, error) {
	var best string
	var bestSize int64 = -1

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > bestSize {
			bestSize = info.Size()
			best = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no files found under %s", root)
	}
	return best, nil
}
