// Package rendition implements lazy, single-flight HLS/DASH generation
// from the published mezzanine, using golang.org/x/sync/singleflight so
// concurrent requests for the same rendition collapse onto one
// packaging subprocess.
package rendition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"videoserver/internal/apperr"
	internalexec "videoserver/internal/exec"
)

// Format is one of the two rendition kinds.
type Format string

const (
	HLS  Format = "hls"
	DASH Format = "dash"
)

// ManifestName is the entry-point asset clients request first.
func (f Format) ManifestName() string {
	if f == HLS {
		return "master.m3u8"
	}
	return "manifest.mpd"
}

// Generator lazily packages a mezzanine into HLS or DASH, deduplicating
// concurrent requesters for the same (id, format) via one singleflight.Group
// per format.
type Generator struct {
	encoderBinary string

	hls  singleflight.Group
	dash singleflight.Group
}

// New builds a Generator.
func New(encoderBinary string) *Generator {
	return &Generator{encoderBinary: encoderBinary}
}

// EnsureReady generates format's rendition tree for id if it doesn't
// already exist, blocking concurrent callers on the same (id, format) so
// only one packaging subprocess ever runs per key.
func (g *Generator) EnsureReady(ctx context.Context, format Format, id uuid.UUID, mezzaninePath, destDir string) error {
	manifest := filepath.Join(destDir, format.ManifestName())
	if _, err := os.Stat(manifest); err == nil {
		return nil
	}

	group := g.groupFor(format)
	key := id.String()

	_, err, _ := group.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have finished between our Stat
		// above and acquiring the singleflight slot.
		if _, statErr := os.Stat(manifest); statErr == nil {
			return nil, nil
		}
		return nil, g.generate(ctx, format, mezzaninePath, destDir)
	})
	return err
}

func (g *Generator) groupFor(format Format) *singleflight.Group {
	if format == HLS {
		return &g.hls
	}
	return &g.dash
}

// generate writes into destDir+".tmp" then renames to destDir once
// ffmpeg exits successfully, so a partially-packaged rendition tree is
// never observed by a concurrent reader.
func (g *Generator) generate(ctx context.Context, format Format, mezzaninePath, destDir string) error {
	stagingDir := destDir + ".tmp"
	if err := os.RemoveAll(stagingDir); err != nil {
		return apperr.Wrap(apperr.KindIOError, "clearing rendition staging dir", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindIOError, "creating rendition staging dir", err)
	}

	args := g.buildArgs(format, mezzaninePath, stagingDir)
	outcome := internalexec.Run(ctx, internalexec.Spec{Binary: g.encoderBinary, Args: args})
	if outcome.Kind != internalexec.ExitOK {
		_ = os.RemoveAll(stagingDir)
		return apperr.Wrap(apperr.KindTranscodeFailed, fmt.Sprintf("%s packaging failed", format), fmt.Errorf("%s", outcome.StderrTail))
	}

	_ = os.RemoveAll(destDir)
	if err := os.Rename(stagingDir, destDir); err != nil {
		_ = os.RemoveAll(stagingDir)
		return apperr.Wrap(apperr.KindIOError, "promoting rendition directory", err)
	}
	return nil
}

func (g *Generator) buildArgs(format Format, mezzaninePath, outputDir string) []string {
	if format == HLS {
		return []string{
			"-y", "-i", mezzaninePath,
			"-c", "copy",
			"-f", "hls",
			"-hls_time", "6",
			"-hls_playlist_type", "vod",
			"-hls_segment_filename", filepath.Join(outputDir, "segment%05d.ts"),
			filepath.Join(outputDir, "master.m3u8"),
		}
	}
	return []string{
		"-y", "-i", mezzaninePath,
		"-c", "copy",
		"-f", "dash",
		"-use_template", "1",
		"-use_timeline", "1",
		"-seg_duration", "6",
		filepath.Join(outputDir, "manifest.mpd"),
	}
}
