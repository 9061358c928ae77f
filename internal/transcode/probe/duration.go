package probe

import (
	"context"
	"strconv"
	"strings"

	internalexec "videoserver/internal/exec"
)

// Duration runs ffprobe against input and returns the container duration
// in milliseconds, or 0 if ffprobe failed or reported something
// unparsable — mirroring original_source's probe_duration, which treats a
// missing/invalid duration as "unknown" rather than a hard error so the
// caller can fall back to indeterminate progress.
func Duration(ctx context.Context, probeBinary, inputPath string) int64 {
	out := runProbe(ctx, probeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)

	seconds, err := strconv.ParseFloat(strings.TrimSpace(firstLine(out)), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return int64(seconds * 1000)
}

// HasAudio reports whether input has at least one audio stream.
func HasAudio(ctx context.Context, probeBinary, inputPath string) bool {
	out := runProbe(ctx, probeBinary,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		inputPath,
	)
	return strings.TrimSpace(out) != ""
}

// runProbe launches probeBinary through the shared process supervisor and
// returns whatever it wrote to stdout, or "" on any non-zero/spawn/cancel
// outcome.
func runProbe(ctx context.Context, probeBinary string, args ...string) string {
	var lines []string
	outcome := internalexec.Run(ctx, internalexec.Spec{
		Binary: probeBinary,
		Args:   args,
		OnStdoutLine: func(line string) {
			lines = append(lines, line)
		},
	})
	if outcome.Kind != internalexec.ExitOK {
		return ""
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return strings.TrimSpace(s)
}
