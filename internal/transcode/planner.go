// Package transcode chooses an encoder, builds its argument list, and
// orchestrates the hardware→software fallback chain across a full
// AV1/Opus encoder table.
package transcode

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"videoserver/internal/apperr"
	internalexec "videoserver/internal/exec"
	"videoserver/internal/exec/progress"
	"videoserver/internal/transcode/probe"
)

// Request carries the client-supplied transcode overrides.
type Request struct {
	CRF      *int // every encoder's quality knob; default 30, clamp [0,63]
	CPUUsed  *int // software only; default 6, clamp [0,8]
	Encoder  probe.Encoder
}

const (
	defaultCRF     = 30
	defaultCPUUsed = 6
)

// fallbackWindow is how long a hardware attempt gets to produce any
// progress before the planner gives up on it and tries the next
// candidate. Var, not const, so tests can shrink it instead of waiting
// out the real window.
var fallbackWindow = 8 * time.Second

// Validate enforces the clamp checks on client-supplied overrides.
func (r Request) Validate() error {
	if r.CRF != nil && (*r.CRF < 0 || *r.CRF > 63) {
		return apperr.New(apperr.KindBadRequest, "crf out of range")
	}
	if r.CPUUsed != nil && (*r.CPUUsed < 0 || *r.CPUUsed > 8) {
		return apperr.New(apperr.KindBadRequest, "cpu_used out of range")
	}
	return nil
}

func (r Request) crf() int {
	if r.CRF != nil {
		return *r.CRF
	}
	return defaultCRF
}

func (r Request) cpuUsed() int {
	if r.CPUUsed != nil {
		return *r.CPUUsed
	}
	return defaultCPUUsed
}

// Planner is Component F.
type Planner struct {
	prober *probe.Prober

	encoderBinary   string
	probeBinary     string
	vaapiDevice     string
	defaultOverride probe.Encoder
	log             *logrus.Logger
}

// New builds a Planner bound to the given external binaries.
// defaultOverride is the VIDEO_SERVER_ENCODER-configured override (empty if
// unset); a per-request override in Request.Encoder always takes priority
// over it.
func New(prober *probe.Prober, encoderBinary, probeBinary, vaapiDevice string, defaultOverride probe.Encoder, log *logrus.Logger) *Planner {
	return &Planner{prober: prober, encoderBinary: encoderBinary, probeBinary: probeBinary, vaapiDevice: vaapiDevice, defaultOverride: defaultOverride, log: log}
}

// OnProgress is called with a stage_progress fraction in [0,1] as the
// active encoder attempt reports it.
type OnProgress func(fraction float64)

// Transcode runs the fallback chain against sourcePath, writing the
// mezzanine to outputPath (a temp path the publication layer will later
// promote). onProgress is called with each stage_progress fraction the
// active attempt reports; it resets to 0 whenever the planner falls back
// to the next candidate. Transcode returns the encoder that ultimately
// succeeded, or an apperr: KindEncoderUnavailable when no candidate could
// be launched, KindTranscodeFailed when every candidate failed otherwise.
func (p *Planner) Transcode(ctx context.Context, sourcePath, outputPath string, req Request, onProgress OnProgress) (probe.Encoder, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	durationMs := probe.Duration(ctx, p.probeBinary, sourcePath)
	hasAudio := probe.HasAudio(ctx, p.probeBinary, sourcePath)

	override := req.Encoder
	if override == "" {
		override = p.defaultOverride
	}
	candidates := p.prober.Candidates(ctx, override)

	var lastErr error
	launched := false
	for i, enc := range candidates {
		isHardware := enc != probe.Software
		attemptCtx, cancel := context.WithCancel(ctx)

		var producedFrame atomic.Bool
		var watchdog *time.Timer
		if isHardware {
			// A hardware attempt that produces no frames within the
			// fallback window is treated as an initialization failure and
			// cancelled so the next candidate gets a turn; an attempt that
			// is actively producing frames runs to completion regardless
			// of how long it takes.
			watchdog = time.AfterFunc(fallbackWindow, func() {
				if !producedFrame.Load() {
					cancel()
				}
			})
		}

		sink := progress.Monotonic(func(fraction float64) {
			producedFrame.Store(true)
			if onProgress != nil {
				onProgress(fraction)
			}
		})

		outcome := p.attempt(attemptCtx, enc, sourcePath, outputPath, req, hasAudio, durationMs, sink)
		if watchdog != nil {
			watchdog.Stop()
		}
		cancel()

		if outcome.Kind == internalexec.ExitOK {
			return enc, nil
		}
		if outcome.Kind != internalexec.ExitSpawnFailed {
			launched = true
		}

		lastErr = fmt.Errorf("%s: %s", enc, outcome.StderrTail)
		last := i == len(candidates)-1

		if isHardware && !producedFrame.Load() {
			p.log.WithFields(logrus.Fields{"encoder": enc}).Warn("hardware encoder produced no frames, falling back")
		} else {
			p.log.WithFields(logrus.Fields{"encoder": enc, "exit": outcome.Kind}).Warn("encoder attempt failed")
		}

		if !last && onProgress != nil {
			onProgress(0)
		}
	}

	if lastErr == nil {
		return "", apperr.New(apperr.KindEncoderUnavailable, "no encoder candidates available")
	}
	if !launched {
		return "", apperr.Wrap(apperr.KindEncoderUnavailable, "no encoder candidate could be launched", lastErr)
	}
	return "", apperr.Wrap(apperr.KindTranscodeFailed, "all encoder candidates failed", lastErr)
}

func (p *Planner) attempt(ctx context.Context, enc probe.Encoder, sourcePath, outputPath string, req Request, hasAudio bool, durationMs int64, sink progress.Sink) internalexec.Outcome {
	args := p.buildArgs(enc, sourcePath, outputPath, req, hasAudio)

	parser := progress.FFmpegProgress{TotalMs: durationMs, Sink: sink}
	return internalexec.Run(ctx, internalexec.Spec{
		Binary:       p.encoderBinary,
		Args:         args,
		OnStdoutLine: parser.Line,
	})
}

// buildArgs constructs the ffmpeg invocation for one encoder candidate.
// AV1 video + Opus audio, fragmented/streaming-friendly muxing is common
// to every candidate; only the -c:v line and its encoder-specific knobs
// vary by candidate.
func (p *Planner) buildArgs(enc probe.Encoder, sourcePath, outputPath string, req Request, hasAudio bool) []string {
	args := []string{
		"-y", "-progress", "pipe:1", "-nostats",
		"-i", sourcePath,
		"-sn", "-map", "0:v:0?",
	}
	if hasAudio {
		args = append(args, "-map", "0:a:0?")
	}

	switch enc {
	case probe.VideoToolbox:
		args = append(args, "-c:v", "av1_videotoolbox", "-q:v", fmt.Sprintf("%d", req.crf()))
	case probe.NVENC:
		args = append(args, "-c:v", "av1_nvenc", "-cq", fmt.Sprintf("%d", req.crf()))
	case probe.QSV:
		args = append(args, "-c:v", "av1_qsv", "-global_quality", fmt.Sprintf("%d", req.crf()))
	case probe.VAAPI:
		device := p.vaapiDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		args = append([]string{"-vaapi_device", device}, args...)
		args = append(args, "-vf", "format=nv12,hwupload", "-c:v", "av1_vaapi", "-qp", fmt.Sprintf("%d", req.crf()))
	default: // software, libaom-av1
		args = append(args,
			"-c:v", "libaom-av1",
			"-crf", fmt.Sprintf("%d", req.crf()),
			"-b:v", "0",
			"-cpu-used", fmt.Sprintf("%d", req.cpuUsed()),
			"-row-mt", "1",
		)
	}

	if hasAudio {
		args = append(args, "-c:a", "libopus", "-b:a", "128k", "-ar", "48000")
	}

	args = append(args,
		"-f", "webm",
		"-cluster_size_limit", "2M",
		"-cues_to_front", "1",
		outputPath,
	)
	return args
}
