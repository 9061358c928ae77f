package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun_CapturesStdoutLines(t *testing.T) {
	var lines []string
	outcome := Run(context.Background(), Spec{
		Binary:       "sh",
		Args:         []string{"-c", "echo one; echo two"},
		OnStdoutLine: func(line string) { lines = append(lines, line) },
	})
	if outcome.Kind != ExitOK {
		t.Fatalf("expected ExitOK, got %v err=%v tail=%s", outcome.Kind, outcome.Err, outcome.StderrTail)
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestRun_NonZeroExitCapturesStderrTail(t *testing.T) {
	outcome := Run(context.Background(), Spec{
		Binary: "sh",
		Args:   []string{"-c", "echo boom 1>&2; exit 3"},
	})
	if outcome.Kind != ExitNonZero || outcome.Code != 3 {
		t.Fatalf("expected ExitNonZero/3, got %v/%d", outcome.Kind, outcome.Code)
	}
	if !strings.Contains(outcome.StderrTail, "boom") {
		t.Fatalf("expected stderr tail to contain boom, got %q", outcome.StderrTail)
	}
}

func TestRun_SpawnFailedForMissingBinary(t *testing.T) {
	outcome := Run(context.Background(), Spec{Binary: "this-binary-does-not-exist-xyz"})
	if outcome.Kind != ExitSpawnFailed {
		t.Fatalf("expected ExitSpawnFailed, got %v", outcome.Kind)
	}
}

func TestRun_CancelTerminatesChild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- Run(ctx, Spec{Binary: "sh", Args: []string{"-c", "sleep 30"}})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		if outcome.Kind != ExitCancelled {
			t.Fatalf("expected ExitCancelled, got %v", outcome.Kind)
		}
	case <-time.After(GraceWindow + 2*time.Second):
		t.Fatalf("Run did not return after cancellation within the grace window")
	}
}
