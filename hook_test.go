package crashpipe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// These tests share the process wide hook chain and must not run in parallel.

func TestHookChain(t *testing.T) {
	first, second := newEndpoint(t, http.StatusOK), newEndpoint(t, http.StatusOK)
	h1 := newTestReporter(t, first.URL).Install()
	h2 := newTestReporter(t, second.URL).Install()
	t.Cleanup(h1.Uninstall)
	t.Cleanup(h2.Uninstall)

	t.Run("every hook reports", func(t *testing.T) {
		HandlePanic("boom", []byte("goroutine 1 [running]:\n"))
		if got := len(first.received()); got != 1 {
			t.Errorf("expected the first hook to report once but got %d", got)
		}
		if got := len(second.received()); got != 1 {
			t.Errorf("expected the second hook to report once but got %d", got)
		}
	})

	t.Run("uninstalling one hook leaves the other", func(t *testing.T) {
		h1.Uninstall()
		h1.Uninstall()
		HandlePanic("boom again", nil)
		if got := len(first.received()); got != 1 {
			t.Errorf("expected the uninstalled hook not to report again but got %d reports", got)
		}
		if got := len(second.received()); got != 2 {
			t.Errorf("expected the remaining hook to report again but got %d reports", got)
		}
	})

	t.Run("report content", func(t *testing.T) {
		body := string(second.received()[0].body)
		for _, exp := range []string{`"error_message":"panic: boom"`, `"stack_trace":"goroutine 1 [running]:\n"`} {
			if !strings.Contains(body, exp) {
				t.Errorf("expected the report to contain %s but got %s", exp, body)
			}
		}
	})
}

func TestRecover(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	h := newTestReporter(t, ep.URL).Install()
	defer h.Uninstall()

	var repanicked interface{}
	func() {
		defer func() { repanicked = recover() }()
		defer Recover()
		panic("oh ploppers")
	}()

	if repanicked != "oh ploppers" {
		t.Errorf("expected the original panic value to be re-raised but got %v", repanicked)
	}
	reqs := ep.received()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 report but got %d", len(reqs))
	}
	body := string(reqs[0].body)
	if !strings.Contains(body, `"error_message":"panic: oh ploppers"`) || !strings.Contains(body, "TestRecover") {
		t.Errorf("expected a panic report with a stack trace pointing at this test but got %s", body)
	}
}

func TestRecoverWithoutPanic(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	h := newTestReporter(t, ep.URL).Install()
	defer h.Uninstall()

	func() {
		defer Recover()
	}()

	if got := len(ep.received()); got != 0 {
		t.Errorf("expected no reports but got %d", got)
	}
}

func TestRecoverPanickingWithError(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	h := newTestReporter(t, ep.URL).Install()
	defer h.Uninstall()

	boom := errors.New("kaboom")
	var repanicked interface{}
	func() {
		defer func() { repanicked = recover() }()
		defer Recover()
		panic(boom)
	}()

	if repanicked != boom {
		t.Errorf("expected the original error to be re-raised but got %v", repanicked)
	}
	if body := string(ep.received()[0].body); !strings.Contains(body, `"error_message":"panic: kaboom"`) {
		t.Errorf("expected the panic error message in the report but got %s", body)
	}
}

func TestHookGivesUpAfterShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { <-release }))
	defer srv.Close()
	defer close(release)

	r := newTestReporter(t, srv.URL, func(cfg *Configuration) {
		cfg.Timeout = 10 * time.Second
		cfg.ShutdownTimeout = 50 * time.Millisecond
	})
	h := r.Install()
	defer h.Uninstall()

	start := time.Now()
	if got := h.Handle("hung"); got != OutcomeDropped {
		t.Errorf("expected the hook to give up but got %s", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected the hook to return after the shutdown timeout but it took %s", elapsed)
	}
}

func TestHandlePanicWaitsForOneShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { <-release }))
	defer srv.Close()
	defer close(release)

	const timeout = 200 * time.Millisecond
	for i := 0; i < 5; i++ {
		h := newTestReporter(t, srv.URL, func(cfg *Configuration) {
			cfg.Timeout = 10 * time.Second
			cfg.ShutdownTimeout = timeout
		}).Install()
		defer h.Uninstall()
	}

	start := time.Now()
	HandlePanic("boom", nil)
	// Five hooks waited for one after the other would take a second.
	if elapsed := time.Since(start); elapsed >= 3*timeout {
		t.Errorf("expected the hooks to share a single shutdown timeout of %s but waited %s", timeout, elapsed)
	}
}
