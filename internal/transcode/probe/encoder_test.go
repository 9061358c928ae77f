package probe

import (
	"context"
	"testing"
)

func TestParseOverride(t *testing.T) {
	cases := map[string]Encoder{
		"videotoolbox": VideoToolbox,
		"VT":           VideoToolbox,
		"nvenc":        NVENC,
		"cuda":         NVENC,
		"qsv":          QSV,
		"vaapi":        VAAPI,
		"cpu":          Software,
	}
	for in, want := range cases {
		got, ok := ParseOverride(in)
		if !ok || got != want {
			t.Fatalf("ParseOverride(%q) = %v,%v want %v", in, got, ok, want)
		}
	}

	if _, ok := ParseOverride("not-a-real-encoder"); ok {
		t.Fatalf("expected unrecognized override to miss")
	}
}

func TestCandidates_OverrideSkipsDetection(t *testing.T) {
	p := New("ffmpeg", "")
	got := p.Candidates(context.Background(), VAAPI)
	if len(got) != 1 || got[0] != VAAPI {
		t.Fatalf("expected override to force a single candidate, got %v", got)
	}
}

func TestDedupe(t *testing.T) {
	list := []Encoder{NVENC, QSV, NVENC, Software, Software}
	dedupe(&list)
	if len(list) != 3 {
		t.Fatalf("expected 3 unique encoders, got %v", list)
	}
}
