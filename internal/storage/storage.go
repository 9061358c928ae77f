// Package storage is the publication layer, plus the filesystem layout
// original_source's storage.rs defines: dir roots generalized from a
// source-video library into the mezzanine/temp layout this service needs.
// Asset-path traversal checks live in the HTTP transport, not here.
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MezzanineExt is the file extension every published mezzanine uses: AV1
// video + Opus audio in a streaming-friendly webm container.
const MezzanineExt = "webm"

// Layout holds the process's storage roots: a persistent root for
// published mezzanines and a temp root for staging/rendition caches.
type Layout struct {
	Root        string // <storage_root>
	TmpRoot     string // <tmp>/vrs
	IncomingDir string // <tmp>/vrs/incoming
	HLSDir      string // <tmp>/vrs/hls
	DASHDir     string // <tmp>/vrs/dash
}

// New builds a Layout rooted at storageRoot, with the temp tree under the
// OS temp directory's "vrs" subdirectory, exactly as original_source's
// Storage::initialize lays it out.
func New(storageRoot string) *Layout {
	tmpRoot := filepath.Join(os.TempDir(), "vrs")
	return &Layout{
		Root:        storageRoot,
		TmpRoot:     tmpRoot,
		IncomingDir: filepath.Join(tmpRoot, "incoming"),
		HLSDir:      filepath.Join(tmpRoot, "hls"),
		DASHDir:     filepath.Join(tmpRoot, "dash"),
	}
}

// EnsureDirs creates every root directory this layout depends on.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.Root, l.TmpRoot, l.IncomingDir, l.HLSDir, l.DASHDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// IncomingPath is the staging path an ingest driver writes to before
// transcoding starts.
func (l *Layout) IncomingPath(id uuid.UUID) string {
	return filepath.Join(l.IncomingDir, id.String()+".incoming")
}

// VideoDir is the published directory for a job's mezzanine.
func (l *Layout) VideoDir(id uuid.UUID) string {
	return filepath.Join(l.Root, id.String())
}

// DownloadPath is the published mezzanine file path.
func (l *Layout) DownloadPath(id uuid.UUID, ext string) string {
	return filepath.Join(l.VideoDir(id), "download."+ext)
}

// HLSDirFor is the lazily-populated HLS rendition cache directory for id.
func (l *Layout) HLSDirFor(id uuid.UUID) string {
	return filepath.Join(l.HLSDir, id.String())
}

// DASHDirFor is the lazily-populated DASH rendition cache directory for id.
func (l *Layout) DASHDirFor(id uuid.UUID) string {
	return filepath.Join(l.DASHDir, id.String())
}

// PruneRenditions removes both rendition caches for id, tolerating either
// being already absent. It reports whether anything was actually removed.
func (l *Layout) PruneRenditions(id uuid.UUID) (bool, error) {
	pruned := false
	for _, dir := range []string{l.HLSDirFor(id), l.DASHDirFor(id)} {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return pruned, err
		}
		pruned = true
	}
	return pruned, nil
}

// Publish atomically promotes tmpPath into the job's download.<ext> path.
// It creates the job's video directory, then tries a same-filesystem
// rename; if that fails for any reason (most commonly EXDEV: tmpPath is on
// a different filesystem than the storage root, e.g. /tmp on tmpfs vs a
// bind-mounted data volume), it falls back to copy-then-rename-then-unlink using an
// intermediate temp file inside the job's own directory. On any failure
// the partial target is removed.
func Publish(tmpPath, finalPath string) error {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err == nil {
		return nil
	}

	// Rename failed — most commonly EXDEV because tmpPath and the
	// storage root are on different filesystems. Go has no portable
	// EXDEV sentinel, so rather than sniffing syscall.Errno per platform
	// we just always fall back to copy-then-rename-then-unlink; a
	// same-filesystem rename never reaches this branch in practice.
	intermediate := filepath.Join(dir, ".publish-"+filepath.Base(finalPath)+".tmp")
	if err := copyFile(tmpPath, intermediate); err != nil {
		_ = os.Remove(intermediate)
		return err
	}
	if err := os.Rename(intermediate, finalPath); err != nil {
		_ = os.Remove(intermediate)
		return err
	}
	_ = os.Remove(tmpPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
