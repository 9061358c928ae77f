// Package probe implements Component A: enumerating usable AV1 encoders in
// a fixed preference order, the way korvin3-media-transcriber's
// diagnostics.Checker probes for tool presence before a pipeline runs, but
// asking the encoder binary itself whether it will accept a codec rather
// than just checking PATH.
package probe

import (
	"context"
	"runtime"
	"strings"
	"sync"

	internalexec "videoserver/internal/exec"
)

// Encoder is one candidate AV1 encoder.
type Encoder string

const (
	VideoToolbox Encoder = "videotoolbox"
	NVENC        Encoder = "nvenc"
	QSV          Encoder = "qsv"
	VAAPI        Encoder = "vaapi"
	Software     Encoder = "software" // libaom, always available as the final fallback
)

var fromOverride = map[string]Encoder{
	"videotoolbox": VideoToolbox,
	"vt":           VideoToolbox,
	"nvenc":        NVENC,
	"cuda":         NVENC,
	"qsv":          QSV,
	"quicksync":    QSV,
	"vaapi":        VAAPI,
	"software":     Software,
	"cpu":          Software,
}

// ParseOverride maps a VIDEO_SERVER_ENCODER-style string onto an Encoder.
func ParseOverride(value string) (Encoder, bool) {
	enc, ok := fromOverride[strings.ToLower(strings.TrimSpace(value))]
	return enc, ok
}

// platformOrder lists the hardware candidates this OS could plausibly
// expose: VideoToolbox on macOS; NVENC, QSV on Windows; NVENC, QSV,
// VA-API on Linux.
// Software is always appended separately as the guaranteed last resort.
func platformOrder() []Encoder {
	switch runtime.GOOS {
	case "darwin":
		return []Encoder{VideoToolbox}
	case "windows":
		return []Encoder{NVENC, QSV}
	case "linux":
		return []Encoder{NVENC, QSV, VAAPI}
	default:
		return nil
	}
}

// encoderBinaryName is the ffmpeg -c:v encoder name for each candidate,
// the same identifier ffmpeg lists in `-encoders`. Detection asks ffmpeg
// to attempt a trivial
// encode rather than grepping `-encoders` text, so a codec that's listed
// but non-functional (e.g. no GPU present) is still correctly rejected.
var encoderBinaryName = map[Encoder]string{
	VideoToolbox: "av1_videotoolbox",
	NVENC:        "av1_nvenc",
	QSV:          "av1_qsv",
	VAAPI:        "av1_vaapi",
	Software:     "libaom-av1",
}

// Prober caches the process-lifetime probe result.
type Prober struct {
	encoderBinary string
	vaapiDevice   string

	once     sync.Once
	detected []Encoder
}

// New builds a Prober that shells out to encoderBinary (ffmpeg by default)
// to test each candidate.
func New(encoderBinary, vaapiDevice string) *Prober {
	return &Prober{encoderBinary: encoderBinary, vaapiDevice: vaapiDevice}
}

// Candidates returns the ordered, probed, available encoder list for this
// process's lifetime. override, if non-empty, forces a single candidate
// and skips probing/fallback entirely, matching VIDEO_SERVER_ENCODER.
func (p *Prober) Candidates(ctx context.Context, override Encoder) []Encoder {
	if override != "" {
		return []Encoder{override}
	}

	p.once.Do(func() {
		p.detected = p.detect(ctx)
	})
	return p.detected
}

func (p *Prober) detect(ctx context.Context) []Encoder {
	order := append(platformOrder(), Software)

	available := make([]Encoder, 0, len(order))
	for _, enc := range order {
		if p.supports(ctx, enc) {
			available = append(available, enc)
		}
	}
	if len(available) == 0 {
		available = []Encoder{Software}
	}
	dedupe(&available)
	return available
}

// supports asks ffmpeg to attempt a one-frame encode with the candidate's
// encoder into ffmpeg's null muxer (-f null -), treating any failure as
// unavailable. Software (libaom) is never probed — it's always assumed
// present since it's the guaranteed fallback.
func (p *Prober) supports(ctx context.Context, enc Encoder) bool {
	if enc == Software {
		return true
	}
	name := encoderBinaryName[enc]

	args := []string{
		"-v", "error", "-f", "lavfi", "-i", "color=c=black:s=64x64:d=0.1",
		"-frames:v", "1", "-c:v", name,
	}
	if enc == VAAPI {
		device := p.vaapiDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		args = append([]string{"-vaapi_device", device}, args...)
	}
	args = append(args, "-f", "null", "-")

	outcome := internalexec.Run(ctx, internalexec.Spec{Binary: p.encoderBinary, Args: args})
	return outcome.Kind == internalexec.ExitOK
}

func dedupe(list *[]Encoder) {
	seen := make(map[Encoder]bool, len(*list))
	out := (*list)[:0]
	for _, enc := range *list {
		if seen[enc] {
			continue
		}
		seen[enc] = true
		out = append(out, enc)
	}
	*list = out
}

// EncodersByName exposes the ffmpeg -c:v name of each candidate. The
// transcode planner does not use it; its argument table names the
// encoders itself.
func EncodersByName() map[Encoder]string { return encoderBinaryName }
