package crashpipe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Reporter is the key type of this package: it builds crash reports, delivers
// them to the collection endpoint and keeps the ones it couldn't deliver in a
// local queue until they can be replayed.
type Reporter struct {
	cfg *Configuration

	session Session
	probe   *HardwareProbe
	client  HTTPDoer
	queue   *Queue

	now func() time.Time

	background sync.WaitGroup
	closeOnce  sync.Once
}

// HTTPDoer is the part of *http.Client the Reporter uses.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// New constructs a new Reporter with the given configuration.
// You should call Close before shutting down your app in order to give any
// queued reports another chance to be delivered.
func New(cfg Configuration) (*Reporter, error) { //nolint:gocritic // We want to pass by value here as the configuration should be considered immutable
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.runtimeConstants = makeRuntimeConstants()

	r := &Reporter{
		cfg:    &cfg,
		client: cfg.HTTPClient,
		probe:  cfg.HardwareProbe,
		queue:  NewQueue(cfg.StoragePath, cfg.AppName),
		now:    time.Now,
	}
	r.queue.Logger = cfg.Logger
	if r.client == nil {
		r.client = &http.Client{Timeout: cfg.Timeout}
	}
	if r.probe == nil {
		r.probe = NewHardwareProbe(cfg.StoragePath, cfg.Logger)
	}
	if cfg.SessionID != "" {
		r.session = Session{ID: cfg.SessionID, UserID: cfg.UserID}
	} else {
		r.session = NewSession(cfg.UserID)
	}

	if cfg.ReplayOnStart {
		r.background.Add(1)
		go func() {
			defer r.background.Done()
			r.ReplayLocal(context.Background())
		}()
	}
	return r, nil
}

// Session is the session every report from this Reporter belongs to.
func (r *Reporter) Session() Session { return r.session }

// Queue is the local fallback queue of this Reporter.
func (r *Reporter) Queue() *Queue { return r.queue }

// BuildOption customizes a single report.
type BuildOption func(*ReportInput)

// WithStack sets the stack trace explicitly instead of deriving it from the
// reported error.
func WithStack(stackTrace string) BuildOption {
	return func(in *ReportInput) { in.StackTrace = stackTrace }
}

// ForUser reports the crash as affecting the given user.
func ForUser(userID string) BuildOption {
	return func(in *ReportInput) { in.UserID = userID }
}

// InSession overrides the Reporter's session ID for a single report.
func InSession(sessionID string) BuildOption {
	return func(in *ReportInput) { in.SessionID = sessionID }
}

// WithExtra merges extra context into the report's hardware specs. Keys given
// here win over keys attached to the context.Context and over probe values.
func WithExtra(extra map[string]interface{}) BuildOption {
	return func(in *ReportInput) {
		merged := make(map[string]interface{}, len(in.Context)+len(extra))
		for k, v := range in.Context {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		in.Context = merged
	}
}

// Build assembles a crash report for err. The user ID and extra context
// attached to ctx, or to the ctx of any Wrap call in err's chain, are
// included. The crash timestamp is taken before the hardware is probed.
func (r *Reporter) Build(ctx context.Context, err error, opts ...BuildOption) *CrashReport {
	if ctx == nil {
		ctx = context.Background()
	}
	cd := extractContextData(ctx, err)
	in := ReportInput{
		AppName:    r.cfg.AppName,
		AppVersion: r.cfg.AppVersion,
		Platform:   NormalizePlatform(r.cfg.goos),
		Err:        err,
		UserID:     r.session.UserID,
		SessionID:  r.session.ID,
		Context:    cd.Context,
		Now:        r.now(),
	}
	if cd.UserID != "" {
		in.UserID = cd.UserID
	}
	for _, opt := range opts {
		opt(&in)
	}
	// The probes must run even when a crash is reported on a canceled ctx.
	in.Hardware = r.probe.Collect(context.WithoutCancel(ctx))
	return BuildReport(in)
}

// ReportCrash builds a report for err and delivers it, falling back to the
// local queue. It never panics and never returns an error: the Outcome says
// where the report ended up.
func (r *Reporter) ReportCrash(ctx context.Context, err error, opts ...BuildOption) (outcome Outcome) {
	// Ideally we wouldn't need this guard, but it's the best way I can see to
	// prevent this package from ever panicking.
	defer r.guard("ReportCrash")

	if err == nil {
		r.cfg.InternalErrorCallback(errors.New("error missing in call to (*crashpipe.Reporter).ReportCrash. no crash reported"))
		return OutcomeDropped
	}
	return r.Deliver(ctx, r.Build(ctx, err, opts...))
}

// Close gives the local queue one last replay, bounded by
// Configuration.ShutdownTimeout. Calling Close more than once is a no-op.
func (r *Reporter) Close() {
	defer r.guard("Close")
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			r.background.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		r.ReplayLocal(ctx)
	})
}

func (r *Reporter) internalError(err error, msg string) {
	r.cfg.Logger.WithError(err).Error(msg)
	r.cfg.InternalErrorCallback(err)
}

func (r *Reporter) guard(method string) {
	if p := recover(); p != nil {
		r.internalError(fmt.Errorf("panic when calling %s: %v", method, p), "crash reporter panicked")
	}
}
