package crashpipe

import (
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultReplayAttempts  = 3
	defaultReplayBackoff   = 500 * time.Millisecond
	defaultReplayMaxWait   = 5 * time.Second
)

// Configuration represents all of the possible configurations for the Reporter.
type Configuration struct {
	AppName  string // Required. Sent as X-App-Name and used to name the local queue.
	Endpoint string // Required. The URL crash reports are POSTed to.
	Secret   string // Required. The shared HMAC secret.

	AppVersion string // Optional, but highly recommended.

	// Optional. Directory for reports that could not be delivered. Defaults to
	// ~/.<AppName>_crashes.
	StoragePath string

	// Optional. Bounds a single delivery attempt. Defaults to 10 seconds.
	Timeout time.Duration

	// Optional. Bounds how long Close and a recovered panic may block the
	// host process. Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	// Optional. Attempts per queued entry during a replay, with jittered
	// exponential backoff between attempts. Defaults to 3, starting at 500ms
	// and never waiting more than 5s.
	ReplayAttempts   int
	ReplayBackoffMin time.Duration
	ReplayBackoffMax time.Duration

	// Optional. Replay the local queue in the background as soon as the
	// Reporter is created.
	ReplayOnStart bool

	// Optional. Reuse a session from a previous process. A new session ID is
	// generated when empty.
	SessionID string
	UserID    string

	// Optional. Defaults to the standard logrus logger.
	Logger logrus.FieldLogger

	// Optional. Invoked with every error the Reporter swallows, e.g. when a
	// report could neither be delivered nor stored.
	InternalErrorCallback func(err error)

	// Optional. Defaults to a client with Timeout applied per request.
	HTTPClient HTTPDoer

	// Optional. Defaults to the gopsutil backed probes.
	HardwareProbe *HardwareProbe

	runtimeConstants
}

func (cfg *Configuration) validate() error {
	if strings.TrimSpace(cfg.AppName) == "" {
		return &ValidationError{Field: "AppName", Reason: "must be present"}
	}
	if strings.ContainsAny(cfg.AppName, `/\`) {
		return &ValidationError{Field: "AppName", Reason: `must not contain path separators, got "` + cfg.AppName + `"`}
	}
	if cfg.Secret == "" {
		return &ValidationError{Field: "Secret", Reason: "must be present"}
	}
	if !validURL(cfg.Endpoint) {
		return &ValidationError{Field: "Endpoint", Reason: `must be a valid URL, got "` + cfg.Endpoint + `"`}
	}
	if cfg.Timeout < 0 {
		return &ValidationError{Field: "Timeout", Reason: "must not be negative"}
	}
	if cfg.ReplayAttempts < 0 {
		return &ValidationError{Field: "ReplayAttempts", Reason: "must not be negative"}
	}
	return nil
}

func (cfg *Configuration) applyDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.ReplayAttempts == 0 {
		cfg.ReplayAttempts = defaultReplayAttempts
	}
	if cfg.ReplayBackoffMin == 0 {
		cfg.ReplayBackoffMin = defaultReplayBackoff
	}
	if cfg.ReplayBackoffMax == 0 {
		cfg.ReplayBackoffMax = defaultReplayMaxWait
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = DefaultStoragePath(cfg.AppName)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger().WithField("app", cfg.AppName)
	}
	if cfg.InternalErrorCallback == nil {
		cfg.InternalErrorCallback = func(_ error) {} // Default to a NOOP.
	}
}

// DefaultStoragePath is the queue directory used when no StoragePath is
// configured: a hidden per-app directory in the user's home directory, or in
// the temp directory when the home directory cannot be determined.
func DefaultStoragePath(appName string) string {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, "."+appName+"_crashes")
}

func validURL(cand string) bool {
	if _, err := url.ParseRequestURI(cand); err != nil {
		return false
	}
	u, err := url.Parse(cand)
	return err == nil && u.Scheme != "" && u.Host != ""
}

type runtimeConstants struct {
	hostname, goVersion, goos, goarch string
}

func makeRuntimeConstants() runtimeConstants {
	hostname, _ := os.Hostname()
	return runtimeConstants{
		hostname:  hostname,
		goVersion: runtime.Version(),
		goos:      runtime.GOOS,
		goarch:    runtime.GOARCH,
	}
}
