// Package feedcache stores the last fetched calendar feed as a snapshot file
// so that sync cycles do not hit the remote calendar every time.
//
// A snapshot is either absent or complete: Save writes a temp file in the
// same directory and renames it over the target, so a concurrent Load never
// sees a partial write.
package feedcache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/afero"

	"assignbot/internal/apperr"
	appLog "assignbot/internal/log"
	"assignbot/internal/model"
)

// ErrNotFound is returned by Load when there is no usable snapshot.
var ErrNotFound = errors.New("feed snapshot not found")

// Cache is the snapshot store used by the ingestor.
type Cache interface {
	Load(ctx context.Context) (*model.FeedSnapshot, error)
	Save(ctx context.Context, snap *model.FeedSnapshot) error
	Invalidate(ctx context.Context) error
}

// FileCache keeps the snapshot as an indented JSON file.
type FileCache struct {
	fs     afero.Fs
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a FileCache.
type Option func(*FileCache)

// WithFs sets the filesystem; the default is the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(c *FileCache) {
		c.fs = fsys
	}
}

// WithMaxAge makes Load treat snapshots older than d as absent. Zero keeps
// a snapshot until it is invalidated explicitly.
func WithMaxAge(d time.Duration) Option {
	return func(c *FileCache) {
		c.maxAge = d
	}
}

// WithClock overrides the clock used for the max-age check.
func WithClock(now func() time.Time) Option {
	return func(c *FileCache) {
		c.now = now
	}
}

// New creates a FileCache at path.
func New(path string, opts ...Option) *FileCache {
	c := &FileCache{
		fs:   afero.NewOsFs(),
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the snapshot location.
func (c *FileCache) Path() string {
	return c.path
}

// Load reads the snapshot. It returns ErrNotFound when the file does not
// exist or has outlived the max age; any other failure is tagged as a
// storage error.
func (c *FileCache) Load(_ context.Context) (*model.FeedSnapshot, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrNotFound, "no snapshot on disk", goerr.V("path", c.path))
		}
		return nil, goerr.Wrap(err, "failed to read feed snapshot",
			goerr.V("path", c.path), goerr.T(apperr.TagStorage))
	}

	var snap model.FeedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, goerr.Wrap(err, "failed to decode feed snapshot",
			goerr.V("path", c.path), goerr.T(apperr.TagStorage))
	}
	if snap.Events == nil {
		snap.Events = map[string]model.RawEvent{}
	}

	if c.maxAge > 0 && c.now().Sub(snap.FetchedAt) > c.maxAge {
		appLog.Info("feed snapshot expired", "path", c.path, "fetched_at", snap.FetchedAt, "max_age", c.maxAge)
		return nil, goerr.Wrap(ErrNotFound, "snapshot expired",
			goerr.V("path", c.path), goerr.V("fetched_at", snap.FetchedAt))
	}

	return &snap, nil
}

// Save replaces the snapshot atomically.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes a temp file in the same directory, syncs and closes it.
//   - Sets 0600 and renames it over the target path.
func (c *FileCache) Save(_ context.Context, snap *model.FeedSnapshot) error {
	if snap == nil {
		return goerr.New("snapshot is nil", goerr.T(apperr.TagStorage))
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode feed snapshot", goerr.T(apperr.TagStorage))
	}

	dir := filepath.Dir(c.path)
	if err := c.fs.MkdirAll(dir, 0o700); err != nil {
		return goerr.Wrap(err, "failed to create snapshot directory",
			goerr.V("dir", dir), goerr.T(apperr.TagStorage))
	}

	tmp, err := afero.TempFile(c.fs, dir, ".assignbot-feed-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp snapshot",
			goerr.V("dir", dir), goerr.T(apperr.TagStorage))
	}
	tmpName := tmp.Name()

	// Clean up the temp file unless the rename succeeded.
	renamed := false
	defer func() {
		if !renamed {
			_ = c.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write temp snapshot",
			goerr.V("tmp", tmpName), goerr.T(apperr.TagStorage))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to sync temp snapshot",
			goerr.V("tmp", tmpName), goerr.T(apperr.TagStorage))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp snapshot",
			goerr.V("tmp", tmpName), goerr.T(apperr.TagStorage))
	}
	if err := c.fs.Chmod(tmpName, 0o600); err != nil {
		return goerr.Wrap(err, "failed to chmod temp snapshot",
			goerr.V("tmp", tmpName), goerr.T(apperr.TagStorage))
	}
	if err := c.fs.Rename(tmpName, c.path); err != nil {
		return goerr.Wrap(err, "failed to replace feed snapshot",
			goerr.V("path", c.path), goerr.T(apperr.TagStorage))
	}
	renamed = true

	appLog.Info("feed snapshot saved", "path", c.path, "event_count", len(snap.Events))
	return nil
}

// Invalidate removes the snapshot so the next cycle fetches the feed again.
// A missing snapshot is not an error.
func (c *FileCache) Invalidate(_ context.Context) error {
	if err := c.fs.Remove(c.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to remove feed snapshot",
			goerr.V("path", c.path), goerr.T(apperr.TagStorage))
	}
	appLog.Info("feed snapshot invalidated", "path", c.path)
	return nil
}
