// Package cache implements the on-disk content-addressed store for
// rendered playlists and encoded segments (spec §4.4): deterministic
// paths under a configured root, written atomically via a tmp-file
// then rename so readers never observe a partial file, grounded on the
// tmp-then-publish idiom used by the media server's ffmpeg output
// handling.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/laurelhollow/streamhls/internal/kinderr"
)

// Cache roots every path at a configured directory (spec §4.4, §6
// on-disk layout).
type Cache struct {
	root                 string
	segmentFilenameDigits int
}

// New constructs a Cache rooted at root, using digits-wide zero-padded
// segment indices (spec §6 segment_filename_digits).
func New(root string, digits int) *Cache {
	return &Cache{root: root, segmentFilenameDigits: digits}
}

// PathForMaster returns the path of a media's master playlist.
func (c *Cache) PathForMaster(mediaID string) string {
	return filepath.Join(c.root, mediaID, "master.m3u8")
}

// PathForPlaylist returns the path of a quality's variant playlist.
func (c *Cache) PathForPlaylist(mediaID, quality string) string {
	return filepath.Join(c.root, mediaID, quality, "playlist.m3u8")
}

// PathForSegment returns the deterministic path of one MPEG-TS segment.
func (c *Cache) PathForSegment(mediaID, quality string, index int) string {
	filename := fmt.Sprintf("segment_%0*d.ts", c.segmentFilenameDigits, index)
	return filepath.Join(c.root, mediaID, quality, filename)
}

// Exists reports whether path is already present on disk.
func (c *Cache) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Read opens path for streaming read.
func (c *Cache) Read(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kinderr.New(kinderr.NotFound, fmt.Sprintf("%s not found in cache", path))
		}
		return nil, kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("opening %s", path), err)
	}
	return f, nil
}

// WriteAtomic creates path's parent directories, invokes producer to
// write bytes to a sibling tmp file, then renames that tmp file onto
// path. If producer fails, the tmp file is removed and the error
// surfaces to the caller; readers of path never observe a partial
// write (spec §4.4, §8 Atomicity).
func (c *Cache) WriteAtomic(path string, producer func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("creating directory %s", dir), err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("creating %s", tmpPath), err)
	}

	if err := producer(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("closing %s", tmpPath), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("renaming %s to %s", tmpPath, path), err)
	}
	return nil
}

// TmpPathForSegment returns the tmp path an encoder should write to
// before WriteAtomic's rename takes effect, letting the encoder adapter
// write directly to the file rather than through the producer callback
// (spec §4.8 out_path_tmp).
func (c *Cache) TmpPathForSegment(mediaID, quality string, index int) string {
	return c.PathForSegment(mediaID, quality, index) + ".tmp"
}

// PublishSegment renames a tmp segment file (already fully written by
// the encoder) onto its final path, after ensuring parent directories
// exist. On failure the tmp file is removed.
func (c *Cache) PublishSegment(tmpPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("creating directory for %s", finalPath), err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return kinderr.Wrap(kinderr.CacheIOError, fmt.Sprintf("renaming %s to %s", tmpPath, finalPath), err)
	}
	return nil
}

// RemoveTmp discards a partially-written tmp file, e.g. after an
// encoder failure (spec §4.5 Failure policy, §8 Scenario F).
func (c *Cache) RemoveTmp(tmpPath string) {
	os.Remove(tmpPath)
}
