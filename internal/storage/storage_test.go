package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLayoutPaths(t *testing.T) {
	l := New("/data")
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	if got := l.VideoDir(id); got != filepath.Join("/data", id.String()) {
		t.Fatalf("unexpected video dir: %s", got)
	}
	if got := l.DownloadPath(id, "webm"); got != filepath.Join("/data", id.String(), "download.webm") {
		t.Fatalf("unexpected download path: %s", got)
	}
}

func TestPublish_SameFilesystemRename(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "src.tmp")
	final := filepath.Join(dir, "nested", "download.webm")

	if err := os.WriteFile(tmp, []byte("mezzanine"), 0o644); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := Publish(tmp, final); err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, err := os.ReadFile(final)
	if err != nil || string(data) != "mezzanine" {
		t.Fatalf("expected published content, got %q err=%v", data, err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("expected source tmp file to be gone after publish")
	}
}

func TestPruneRenditions_TolerantOfMissingDirs(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	id := uuid.New()

	pruned, err := l.PruneRenditions(id)
	if err != nil || pruned {
		t.Fatalf("expected no-op prune on empty layout, got pruned=%v err=%v", pruned, err)
	}

	if err := os.MkdirAll(l.HLSDirFor(id), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	pruned, err = l.PruneRenditions(id)
	if err != nil || !pruned {
		t.Fatalf("expected prune to report true, got pruned=%v err=%v", pruned, err)
	}
	if _, err := os.Stat(l.HLSDirFor(id)); !os.IsNotExist(err) {
		t.Fatalf("expected hls dir removed")
	}
}
