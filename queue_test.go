package crashpipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := NewQueue(t.TempDir(), "oopsie-daisy")
	q.Logger = quietLogger()
	return q
}

func TestQueueEnqueue(t *testing.T) {
	q := newTestQueue(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	q.now = func() time.Time { return created }

	entry, err := q.Enqueue([]byte(`{"app_name":"oopsie-daisy"}`))
	require.NoError(t, err)

	assert.Regexp(t, `^crash_01709294400123456789_\d+-1_oopsie-daisy\.json$`, entry.Name)
	assert.Equal(t, filepath.Join(q.Dir(), entry.Name), entry.Path)
	assert.True(t, entry.CreatedAt.Equal(created))

	b, err := q.Read(entry)
	require.NoError(t, err)
	assert.Equal(t, `{"app_name":"oopsie-daisy"}`, string(b))

	des, err := os.ReadDir(q.Dir())
	require.NoError(t, err)
	assert.Len(t, des, 1, "expected no temporary files to be left behind")
}

func TestQueueEntries(t *testing.T) {
	t.Run("missing directory is an empty queue", func(t *testing.T) {
		q := NewQueue(filepath.Join(t.TempDir(), "not", "there"), "oopsie-daisy")
		entries, err := q.Entries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("creation order", func(t *testing.T) {
		q := newTestQueue(t)
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		// Written out of order on purpose.
		for _, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
			offset := offset
			q.now = func() time.Time { return base.Add(offset) }
			_, err := q.Enqueue([]byte(offset.String()))
			require.NoError(t, err)
		}

		entries, err := q.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, exp := range []string{"0s", "1s", "2s"} {
			b, err := q.Read(entries[i])
			require.NoError(t, err)
			assert.Equal(t, exp, string(b))
		}
	})

	t.Run("legacy names and foreign files", func(t *testing.T) {
		q := newTestQueue(t)
		q.now = func() time.Time { return time.Unix(1700000100, 0) }
		_, err := q.Enqueue([]byte("new"))
		require.NoError(t, err)

		for name, content := range map[string]string{
			"crash_1700000000_oopsie-daisy.json": "legacy",
			".crash-1234.tmp":                    "half written",
			"notes.txt":                          "not a report",
			"crash_soon_oopsie-daisy.json":       "bad stamp",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), name), []byte(content), 0o600))
		}

		entries, err := q.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "crash_1700000000_oopsie-daisy.json", entries[0].Name)
		assert.True(t, entries[0].CreatedAt.Equal(time.Unix(1700000000, 0)))

		n, err := q.Len()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestQueueConcurrentWriters(t *testing.T) {
	q := newTestQueue(t)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue([]byte(fmt.Sprintf(`{"n":%d}`, i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 50, n, "expected entries written at the same instant not to collide")
}

func TestQueueVanishedEntries(t *testing.T) {
	q := newTestQueue(t)
	entry, err := q.Enqueue([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, q.Remove(entry))

	_, err = q.Read(entry)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "expected fs.ErrNotExist but got %v", err)
	assert.NoError(t, q.Remove(entry), "removing twice must not fail")
}

func TestQueueWatch(t *testing.T) {
	q := NewQueue(filepath.Join(t.TempDir(), "watched"), "oopsie-daisy")
	q.Logger = quietLogger()

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan QueueEntry, 100)
	done := make(chan error, 1)
	go func() { done <- q.Watch(ctx, func(e QueueEntry) { seen <- e }) }()

	// The watcher may not be registered yet, so keep writing until one shows up.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)
	var got QueueEntry
wait:
	for {
		select {
		case got = <-seen:
			break wait
		case <-ticker.C:
			_, _ = q.Enqueue([]byte("{}"))
		case <-timeout:
			t.Fatal("waited 5 seconds for the watcher to see an entry")
		}
	}

	_, ok := parseEntryName(got.Name)
	assert.True(t, ok, "expected only queue entries to be reported but got %s", got.Name)
	_, err := os.Stat(got.Path)
	assert.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected Watch to return once its context was canceled")
	}
}

func TestParseEntryName(t *testing.T) {
	for _, tc := range []struct {
		name string
		ok   bool
		exp  time.Time
	}{
		{name: "crash_01709294400123456789_42-7_app.json", ok: true, exp: time.Unix(0, 1709294400123456789)},
		{name: "crash_1709294400_app.json", ok: true, exp: time.Unix(1709294400, 0)},
		{name: "crash_1709294400.json", ok: true, exp: time.Unix(1709294400, 0)},
		{name: "crash__app.json"},
		{name: "crash_1709294400_app.txt"},
		{name: "report_1709294400_app.json"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseEntryName(tc.name)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, got.Equal(tc.exp), "expected %s but got %s", tc.exp, got)
			}
		})
	}
}
