// Package app wires the job registry, ingest drivers, transcode planner
// and publication layer into the job pipeline the HTTP transport kicks
// off: an ingest driver stages bytes, the planner transcodes them into
// the mezzanine, and the publication layer promotes the result into the
// storage root.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"videoserver/internal/apperr"
	"videoserver/internal/ingest"
	"videoserver/internal/jobs"
	"videoserver/internal/rendition"
	"videoserver/internal/storage"
	"videoserver/internal/transcode"
)

// Service is the sole caller of the ingest drivers, the transcode planner
// and the publication layer; HTTP handlers only ever talk to Service and
// to the job registry for status reads.
type Service struct {
	registry   *jobs.Registry
	layout     *storage.Layout
	planner    *transcode.Planner
	renditions *rendition.Generator
	log        *logrus.Logger

	downloaderBinary string
	extractorBinary  string
}

// New builds a Service from its already-constructed collaborators.
func New(registry *jobs.Registry, layout *storage.Layout, planner *transcode.Planner, renditions *rendition.Generator, log *logrus.Logger, downloaderBinary, extractorBinary string) *Service {
	return &Service{
		registry:         registry,
		layout:           layout,
		planner:          planner,
		renditions:       renditions,
		log:              log,
		downloaderBinary: downloaderBinary,
		extractorBinary:  extractorBinary,
	}
}

// Registry exposes the job registry for status reads.
func (s *Service) Registry() *jobs.Registry { return s.registry }

// Layout exposes the storage layout for delivery handlers.
func (s *Service) Layout() *storage.Layout { return s.layout }

// Renditions exposes the lazy rendition generator for delivery handlers.
func (s *Service) Renditions() *rendition.Generator { return s.renditions }

// StartMultipart stages an uploaded file part synchronously (the caller's
// HTTP request body is the only source of those bytes) and then runs
// transcode+publish in the background. The plan it assigns skips the
// fetching stage entirely, since the bytes are already local.
func (s *Service) StartMultipart(ctx context.Context, part io.Reader, contentLength int64, req transcode.Request) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.UUID{}, err
	}

	// The job's own context is parented on context.Background(), not ctx:
	// ctx is the HTTP request context and is cancelled the moment the
	// handler returns its 202, which would otherwise kill the background
	// transcode the instant it started. The synchronous upload read below
	// is the one place ctx (the request) is still the right context.
	id, jobCtx := s.registry.Create(context.Background(), jobs.PlanTranscodeFinalize)
	staged := s.layout.IncomingPath(id)

	driver := ingest.MultipartDriver{Part: part, ContentLength: contentLength, StagingPath: staged}
	if _, err := driver.Stage(ctx, nil); err != nil {
		s.registry.Fail(id, kindOf(err, apperr.KindBadRequest), apperr.MessageOf(err))
		return id, nil
	}

	go s.runTranscodeAndPublish(jobCtx, id, staged, req)
	return id, nil
}

// StartRemote creates a job for a remote/torrent ingest and drives its
// whole pipeline — fetch, transcode, publish — on a background goroutine,
// returning the job id immediately.
func (s *Service) StartRemote(ctx context.Context, rawURL string, req transcode.Request) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.UUID{}, err
	}
	if strings.TrimSpace(rawURL) == "" {
		return uuid.UUID{}, apperr.New(apperr.KindBadRequest, "missing url")
	}

	// See the comment in StartMultipart: the job outlives this request.
	id, jobCtx := s.registry.Create(context.Background(), jobs.PlanFetchTranscodeFinalize)
	staged := s.layout.IncomingPath(id)

	var driver ingest.Driver
	if isTorrentSource(rawURL) {
		driver = ingest.TorrentDriver{
			DownloaderBinary:   s.downloaderBinary,
			MagnetOrTorrentURL: rawURL,
			SessionDir:         staged + ".session",
			StagingPath:        staged,
		}
	} else {
		driver = ingest.RemoteDriver{DownloaderBinary: s.downloaderBinary, URL: rawURL, StagingPath: staged}
	}

	go s.runFetchThenTranscode(jobCtx, id, driver, staged, req)
	return id, nil
}

// StartExtractor creates a job driven by the site-specific extractor
// binary (yt-dlp-shaped CLI) and drives it the same way StartRemote does.
func (s *Service) StartExtractor(ctx context.Context, rawURL string, req transcode.Request) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.UUID{}, err
	}
	if strings.TrimSpace(rawURL) == "" {
		return uuid.UUID{}, apperr.New(apperr.KindBadRequest, "missing url")
	}

	// See the comment in StartMultipart: the job outlives this request.
	id, jobCtx := s.registry.Create(context.Background(), jobs.PlanFetchTranscodeFinalize)
	staged := s.layout.IncomingPath(id)
	driver := ingest.ExtractorDriver{ExtractorBinary: s.extractorBinary, URL: rawURL, StagingPath: staged}

	go s.runFetchThenTranscode(jobCtx, id, driver, staged, req)
	return id, nil
}

func (s *Service) runFetchThenTranscode(ctx context.Context, id uuid.UUID, driver ingest.Driver, staged string, req transcode.Request) {
	if err := s.registry.Transition(id, jobs.StageFetching); err != nil {
		return
	}

	_, err := driver.Stage(ctx, func(fraction float64) {
		_ = s.registry.UpdateStageProgress(id, fraction)
	})
	if err != nil {
		// The driver wraps the downloader's stderr tail as the cause;
		// keep it in the job's error message.
		msg := apperr.MessageOf(err)
		if cause := errors.Unwrap(err); cause != nil {
			msg += ": " + cause.Error()
		}
		s.registry.Fail(id, kindOf(err, apperr.KindFetchFailed), msg)
		_ = os.Remove(staged)
		return
	}

	s.runTranscodeAndPublish(ctx, id, staged, req)
}

func (s *Service) runTranscodeAndPublish(ctx context.Context, id uuid.UUID, stagedPath string, req transcode.Request) {
	if err := s.registry.Transition(id, jobs.StageTranscoding); err != nil {
		return
	}

	videoDir := s.layout.VideoDir(id)
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		s.registry.Fail(id, apperr.KindIOError, "creating video directory: "+apperr.MessageOf(err))
		_ = os.Remove(stagedPath)
		return
	}

	tmpOut := s.layout.DownloadPath(id, storage.MezzanineExt) + ".tmp"
	encoder, err := s.planner.Transcode(ctx, stagedPath, tmpOut, req, func(fraction float64) {
		_ = s.registry.UpdateStageProgress(id, fraction)
	})
	if err != nil {
		_ = os.Remove(tmpOut)
		_ = os.Remove(stagedPath)
		s.registry.Fail(id, kindOf(err, apperr.KindTranscodeFailed), apperr.MessageOf(err))
		return
	}
	s.log.WithFields(logrus.Fields{"job": id, "encoder": encoder}).Info("transcode finished")

	if err := s.registry.Transition(id, jobs.StageFinalizing); err != nil {
		_ = os.Remove(tmpOut)
		return
	}

	finalPath := s.layout.DownloadPath(id, storage.MezzanineExt)
	if err := storage.Publish(tmpOut, finalPath); err != nil {
		_ = os.Remove(tmpOut)
		s.registry.Fail(id, apperr.KindIOError, "publishing mezzanine: "+apperr.MessageOf(err))
		return
	}

	_ = os.Remove(stagedPath)
	_ = s.registry.Complete(id)
}

// isTorrentSource reports whether rawURL should be handed to the torrent
// driver rather than the plain remote fetcher.
func isTorrentSource(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "magnet:") || strings.HasSuffix(lower, ".torrent")
}

// kindOf extracts the apperr.Kind carried by err, falling back to the
// caller's default when err isn't an *apperr.Error (e.g. a bare I/O error
// from a staging file operation).
func kindOf(err error, fallback apperr.Kind) apperr.Kind {
	if kind, ok := apperr.KindOf(err); ok {
		return kind
	}
	return fallback
}
