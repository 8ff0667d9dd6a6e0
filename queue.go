package crashpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	entryPrefix = "crash_"
	entrySuffix = ".json"
)

// Queue is the local fallback store for reports that could not be delivered:
// a directory holding one file per report. Entry names begin with a zero
// padded creation time, so a plain listing is in creation order, and carry the
// writer's pid and a per-process sequence number, so concurrent writers never
// collide. Entries are written under a temporary name and renamed into place,
// and are never modified once visible.
type Queue struct {
	dir     string
	appName string
	seq     uint64

	Logger logrus.FieldLogger

	now func() time.Time
}

// QueueEntry is a single queued report.
type QueueEntry struct {
	Name      string
	Path      string
	CreatedAt time.Time
}

// NewQueue returns a queue rooted at dir. The directory is created on the
// first write.
func NewQueue(dir, appName string) *Queue {
	return &Queue{dir: dir, appName: appName, now: time.Now, Logger: logrus.StandardLogger()}
}

// Dir is the directory the queue lives in.
func (q *Queue) Dir() string { return q.dir }

// Enqueue durably stores payload as a new entry.
func (q *Queue) Enqueue(payload []byte) (QueueEntry, error) {
	if err := os.MkdirAll(q.dir, 0o700); err != nil {
		return QueueEntry{}, errors.Wrapf(err, "unable to create queue directory %s", q.dir)
	}

	created := q.now()
	name := fmt.Sprintf("%s%020d_%d-%d_%s%s",
		entryPrefix, created.UnixNano(), os.Getpid(), atomic.AddUint64(&q.seq, 1), q.appName, entrySuffix)

	tmp, err := os.CreateTemp(q.dir, ".crash-*.tmp")
	if err != nil {
		return QueueEntry{}, errors.Wrap(err, "unable to create temporary queue file")
	}
	defer os.Remove(tmp.Name()) // No-op once renamed.

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return QueueEntry{}, errors.Wrap(err, "unable to write queue file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return QueueEntry{}, errors.Wrap(err, "unable to sync queue file")
	}
	if err := tmp.Close(); err != nil {
		return QueueEntry{}, errors.Wrap(err, "unable to close queue file")
	}

	path := filepath.Join(q.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return QueueEntry{}, errors.Wrapf(err, "unable to move queue file into place as %s", name)
	}
	return QueueEntry{Name: name, Path: path, CreatedAt: created}, nil
}

// Entries lists the queued entries, oldest first. A queue whose directory
// doesn't exist yet is empty.
func (q *Queue) Entries() ([]QueueEntry, error) {
	des, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "unable to list queue directory %s", q.dir)
	}

	entries := make([]QueueEntry, 0, len(des))
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		created, ok := parseEntryName(de.Name())
		if !ok {
			continue
		}
		entries = append(entries, QueueEntry{Name: de.Name(), Path: filepath.Join(q.dir, de.Name()), CreatedAt: created})
	}
	// ReadDir already sorts by name; this only matters for entries written by
	// clients using unpadded second precision timestamps.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Len is the number of queued entries.
func (q *Queue) Len() (int, error) {
	entries, err := q.Entries()
	return len(entries), err
}

// Read returns the payload of e. The returned error matches fs.ErrNotExist
// when the entry has been removed in the meantime.
func (q *Queue) Read(e QueueEntry) ([]byte, error) {
	b, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read queue entry %s", e.Name)
	}
	return b, nil
}

// Remove deletes e. Removing an entry that is already gone is not an error.
func (q *Queue) Remove(e QueueEntry) error {
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to remove queue entry %s", e.Name)
	}
	return nil
}

// Watch invokes fn for every entry that appears in the queue until ctx is
// done.
func (q *Queue) Watch(ctx context.Context, fn func(QueueEntry)) error {
	if err := os.MkdirAll(q.dir, 0o700); err != nil {
		return errors.Wrapf(err, "unable to create queue directory %s", q.dir)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "unable to create fsnotify watcher")
	}
	defer w.Close()
	if err := w.Add(q.dir); err != nil {
		return errors.Wrapf(err, "unable to watch queue directory %s", q.dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			created, ok := parseEntryName(name)
			if !ok {
				continue
			}
			// A rename event is also emitted for the old name of an entry
			// moved away, so only report entries that are still present.
			if _, err := os.Stat(ev.Name); err != nil {
				continue
			}
			fn(QueueEntry{Name: name, Path: ev.Name, CreatedAt: created})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if q.Logger != nil {
				q.Logger.WithError(err).Warn("queue watcher error")
			}
		}
	}
}

// parseEntryName extracts the creation time from an entry name of the form
// crash_<unix time>_<...>.json. Times of ten digits or less are seconds,
// longer ones are nanoseconds.
func parseEntryName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, entryPrefix) || !strings.HasSuffix(name, entrySuffix) {
		return time.Time{}, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, entryPrefix), entrySuffix)
	stamp := rest
	if i := strings.IndexByte(rest, '_'); i >= 0 {
		stamp = rest[:i]
	}
	n, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if len(stamp) <= 10 {
		return time.Unix(n, 0), true
	}
	return time.Unix(0, n), true
}
