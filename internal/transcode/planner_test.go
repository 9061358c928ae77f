package transcode

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"videoserver/internal/transcode/probe"
)

func TestRequest_Defaults(t *testing.T) {
	var r Request
	if r.crf() != defaultCRF || r.cpuUsed() != defaultCPUUsed {
		t.Fatalf("expected defaults 30/6, got %d/%d", r.crf(), r.cpuUsed())
	}
}

func TestRequest_ValidateRejectsOutOfRangeCRF(t *testing.T) {
	bad := 64
	r := Request{CRF: &bad}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected crf=64 to be rejected")
	}
}

func TestRequest_ValidateRejectsOutOfRangeCPUUsed(t *testing.T) {
	bad := 9
	r := Request{CPUUsed: &bad}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected cpu_used=9 to be rejected")
	}
}

func TestRequest_ValidateAcceptsBoundaryValues(t *testing.T) {
	zero, max := 0, 63
	r := Request{CRF: &max}
	if err := r.Validate(); err != nil {
		t.Fatalf("crf=63 should be valid: %v", err)
	}
	r = Request{CRF: &zero}
	if err := r.Validate(); err != nil {
		t.Fatalf("crf=0 should be valid: %v", err)
	}
}

// fakeEncoderScript stands in for ffmpeg. Probe invocations (no
// "-progress" arg) claim only NVENC is available; encode invocations
// ("-progress" present) branch on FAKE_NVENC_MODE to simulate a hardware
// candidate that is either producing frames (slow) or wedged (stuck).
func fakeEncoderScript(t *testing.T, dir string) string {
	path := filepath.Join(dir, "fake-ffmpeg")
	script := `#!/bin/sh
args="$*"
case "$args" in
  *-progress*)
    case "$args" in
      *av1_nvenc*)
        if [ "$FAKE_NVENC_MODE" = "stuck" ]; then
          sleep 2
          exit 1
        elif [ "$FAKE_NVENC_MODE" = "slow" ]; then
          echo out_time_ms=1000
          sleep 0.5
        fi
        ;;
    esac
    eval out=\${$#}
    echo fakemezzanine > "$out"
    exit 0
    ;;
  *)
    case "$args" in
      *av1_nvenc*) exit 0 ;;
      *) exit 1 ;;
    esac
    ;;
esac
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

// fakeProbeScript stands in for ffprobe, reporting a fixed 5-second
// duration so FFmpegProgress.Line has a totalMs to divide against.
func fakeProbeScript(t *testing.T, dir string) string {
	path := filepath.Join(dir, "fake-ffprobe")
	script := `#!/bin/sh
case "$*" in
  *format=duration*) echo 5.0 ;;
esac
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake probe: %v", err)
	}
	return path
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// TestTranscode_HardwareProducingFramesRunsToCompletion is the regression
// test for the fallback watchdog: a hardware attempt that reports at
// least one frame must be allowed to run past fallbackWindow rather than
// being cancelled out from under it.
func TestTranscode_HardwareProducingFramesRunsToCompletion(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("NVENC is only probed in the Linux candidate order")
	}
	dir := t.TempDir()
	t.Setenv("FAKE_NVENC_MODE", "slow")

	restore := fallbackWindow
	fallbackWindow = 150 * time.Millisecond
	defer func() { fallbackWindow = restore }()

	encoderBinary := fakeEncoderScript(t, dir)
	probeBinary := fakeProbeScript(t, dir)
	p := New(probe.New(encoderBinary, ""), encoderBinary, probeBinary, "", "", discardLogger())

	outputPath := filepath.Join(dir, "out.webm")
	enc, err := p.Transcode(context.Background(), "/dev/null", outputPath, Request{}, nil)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if enc != probe.NVENC {
		t.Fatalf("expected the frame-producing hardware candidate to win, got %v", enc)
	}
}

// TestTranscode_StuckHardwareFallsBackToSoftware exercises the opposite
// case: a hardware candidate that never reports a frame gets cancelled
// once fallbackWindow elapses, and the chain falls through to software.
func TestTranscode_StuckHardwareFallsBackToSoftware(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("NVENC is only probed in the Linux candidate order")
	}
	dir := t.TempDir()
	t.Setenv("FAKE_NVENC_MODE", "stuck")

	restore := fallbackWindow
	fallbackWindow = 150 * time.Millisecond
	defer func() { fallbackWindow = restore }()

	encoderBinary := fakeEncoderScript(t, dir)
	probeBinary := fakeProbeScript(t, dir)
	p := New(probe.New(encoderBinary, ""), encoderBinary, probeBinary, "", "", discardLogger())

	outputPath := filepath.Join(dir, "out.webm")
	enc, err := p.Transcode(context.Background(), "/dev/null", outputPath, Request{}, nil)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if enc != probe.Software {
		t.Fatalf("expected fallback to software after the stuck hardware attempt, got %v", enc)
	}
}
