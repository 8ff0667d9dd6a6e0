package crashpipe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func stubProbe() *HardwareProbe {
	return &HardwareProbe{
		CPU: func(context.Context) (CPUInfo, error) {
			return CPUInfo{Count: 4, LogicalCount: 8, FrequencyMHz: 3200, Model: "Test CPU"}, nil
		},
		Memory: func(context.Context) (MemoryInfo, error) {
			return MemoryInfo{Total: 16 << 30, Available: 8 << 30, Used: 8 << 30, UsedPercent: 50}, nil
		},
		Disk: func(context.Context) (DiskInfo, error) {
			return DiskInfo{Path: "/", Total: 512 << 30, Free: 256 << 30, Percent: 50}, nil
		},
		Platform: func(context.Context) (PlatformInfo, error) {
			return PlatformInfo{OS: "linux", Release: "6.1.0", Arch: "amd64"}, nil
		},
		Logger: quietLogger(),
		now:    func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

type request struct {
	header http.Header
	body   []byte
}

// endpoint is a fake collection endpoint that records every request and
// responds with whatever status is currently set.
type endpoint struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	requests []request
}

func newEndpoint(t *testing.T, status int) *endpoint {
	t.Helper()
	e := &endpoint{status: status}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.requests = append(e.requests, request{header: r.Header.Clone(), body: body})
		status := e.status
		e.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	t.Cleanup(e.Close)
	return e
}

func (e *endpoint) setStatus(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

func (e *endpoint) received() []request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]request(nil), e.requests...)
}

func newTestReporter(t *testing.T, url string, mods ...func(*Configuration)) *Reporter {
	t.Helper()
	cfg := Configuration{
		AppName:          "oopsie-daisy",
		AppVersion:       "1.2.3",
		Endpoint:         url,
		Secret:           "s3cr3t",
		StoragePath:      t.TempDir(),
		Timeout:          2 * time.Second,
		ShutdownTimeout:  2 * time.Second,
		ReplayAttempts:   1,
		ReplayBackoffMin: time.Millisecond,
		ReplayBackoffMax: 2 * time.Millisecond,
		HardwareProbe:    stubProbe(),
		Logger:           quietLogger(),
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func mustEntries(t *testing.T, q *Queue) []QueueEntry {
	t.Helper()
	entries, err := q.Entries()
	if err != nil {
		t.Fatal(err)
	}
	return entries
}
